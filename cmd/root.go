package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "face-attendance",
	Short: "Face enrollment and recognition for attendance",
	Long: `Face Attendance enrolls people from a handful of photos, keeps their face
embeddings, and recognizes them in camera frames to record attendance.

Enrollment can happen live through the web API, from the command line, or
through a moderated queue of self-submitted enrollments.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text or json); overrides LOG_FORMAT")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
