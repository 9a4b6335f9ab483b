package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/recognition"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Recognize faces in a live camera stream",
	Long: `Poll a camera snapshot URL (or replay a directory of frames) at a fixed
cadence and print who is in view whenever it changes. Detection and recognition
run independently per frame; late recognition results for old frames are dropped.

Examples:
  # Poll an IP camera ten times a second
  face-attendance watch --url http://camera.local/snapshot.jpg

  # Replay recorded frames for one group for a minute
  face-attendance watch --dir frames/ --group morning --duration 1m`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().String("url", "", "Camera snapshot URL")
	watchCmd.Flags().String("dir", "", "Directory of frames to replay")
	watchCmd.Flags().String("group", "", "Only match members of this group")
	watchCmd.Flags().Duration("interval", 0, "Tick interval (defaults to RECOGNITION_INTERVAL)")
	watchCmd.Flags().Duration("duration", 0, "Stop after this long (0 = until Ctrl+C)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	url := mustGetString(cmd, "url")
	dir := mustGetString(cmd, "dir")
	if (url == "") == (dir == "") {
		return errors.New("provide exactly one of --url or --dir")
	}

	ctx, stop := commandContext(cmd)
	defer stop()
	if d := mustGetDuration(cmd, "duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var source recognition.FrameSource
	if url != "" {
		source = recognition.NewSnapshotSource(url, a.cfg.Embedding.Timeout)
	} else {
		ds, err := recognition.NewDirSource(dir)
		if err != nil {
			return err
		}
		source = ds
	}

	interval := mustGetDuration(cmd, "interval")
	if interval <= 0 {
		interval = a.cfg.Recognition.Interval
	}

	printer := &presencePrinter{}
	loop := recognition.NewLoop(source, a.client, a.recognition, recognition.NewDisplay(printer.update),
		recognition.LoopOptions{
			Interval:    interval,
			MaxInFlight: a.cfg.Recognition.MaxInFlight,
			GroupID:     mustGetString(cmd, "group"),
		})

	fmt.Printf("Watching every %s, press Ctrl+C to stop\n", interval)
	if err := loop.Run(ctx); err != nil {
		return err
	}
	fmt.Printf("Processed %d frames\n", loop.Generation())
	return nil
}

// presencePrinter prints the set of recognized names when it changes.
type presencePrinter struct {
	mu   sync.Mutex
	last string
}

func (p *presencePrinter) update(snap recognition.Snapshot) {
	var names []string
	unknown := 0
	for _, m := range snap.Matches {
		if m.Matched {
			names = append(names, m.PersonName)
		} else {
			unknown++
		}
	}
	sort.Strings(names)
	line := strings.Join(names, ", ")
	if unknown > 0 {
		if line != "" {
			line += ", "
		}
		line += fmt.Sprintf("%d unknown", unknown)
	}
	if line == "" {
		line = "nobody"
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	p.last = line
	fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), line)
}
