package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"seektune/internal/app"
	"seektune/internal/audio"
	"seektune/internal/progress"
)

// ErrJobFailed is returned when the server reports a failed download or
// fingerprinting job.
var ErrJobFailed = errors.New("job failed")

// Run executes a headless command against a started client, writing
// human-readable output to w.
func Run(ctx context.Context, opts *Options, a *app.App, w io.Writer) error {
	changed := watch(a)

	select {
	case <-a.Ready():
	case <-ctx.Done():
		return fmt.Errorf("waiting for the server: %w", ctx.Err())
	}

	switch opts.Command {
	case CommandSongs:
		return runSongs(ctx, opts, a, changed, w)
	case CommandListen:
		return runListen(ctx, opts, a, changed, w)
	case CommandDownload:
		if err := a.RequestDownload(opts.Args[0]); err != nil {
			return err
		}
		fmt.Fprintf(w, "Requested %s\n", opts.Args[0])
		return follow(ctx, a, changed, w, opts.Fingerprint)
	case CommandFingerprint:
		filename := ""
		if len(opts.Args) > 0 {
			filename = opts.Args[0]
		}
		a.StartFingerprinting(filename)
		return follow(ctx, a, changed, w, false)
	}
	return fmt.Errorf("unknown command %q", opts.Command)
}

// watch returns a channel signalled after every client change. Work is
// done on the receiving side, never inside the subscriber.
func watch(a *app.App) <-chan struct{} {
	ch := make(chan struct{}, 1)
	a.Subscribe(func(app.Snapshot) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	return ch
}

// waitFor blocks until cond holds for the current snapshot.
func waitFor(ctx context.Context, a *app.App, changed <-chan struct{}, cond func(app.Snapshot) bool) (app.Snapshot, error) {
	for {
		if snap := a.Snapshot(); cond(snap) {
			return snap, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return app.Snapshot{}, ctx.Err()
		}
	}
}

func runSongs(ctx context.Context, opts *Options, a *app.App, changed <-chan struct{}, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, opts.Wait)
	defer cancel()

	snap, err := waitFor(ctx, a, changed, func(s app.Snapshot) bool { return s.HaveCount })
	if err != nil {
		return fmt.Errorf("no song count received: %w", err)
	}
	fmt.Fprintf(w, "Songs in library: %d\n", snap.SongCount)
	return nil
}

func runListen(ctx context.Context, opts *Options, a *app.App, changed <-chan struct{}, w io.Writer) error {
	round := a.Snapshot().MatchRound

	s, err := a.Listen(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Listening (%s) for up to %s...\n", s.Source, opts.Config.Capture.MaxDuration)

	result, err := s.Wait(ctx)
	if err != nil {
		return err
	}
	if result.Err != nil {
		return result.Err
	}
	if !result.Sent && result.Trigger != audio.TriggerMatched {
		return fmt.Errorf("capture ended without a recording (%s)", result.Trigger)
	}
	if result.Sent {
		fmt.Fprintf(w, "Sent %.1fs of audio, waiting for matches...\n", result.Payload.Duration)
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Wait)
	defer cancel()
	snap, err := waitFor(waitCtx, a, changed, func(s app.Snapshot) bool { return s.MatchRound > round })
	if err != nil {
		return fmt.Errorf("no matches received: %w", err)
	}

	if len(snap.Matches) == 0 {
		fmt.Fprintln(w, "No matches found.")
		return nil
	}
	for i, m := range snap.Matches {
		fmt.Fprintf(w, "%d. %s - %s (score %.0f)", i+1, m.SongTitle, m.SongArtist, m.Score)
		if m.YouTubeID != "" {
			fmt.Fprintf(w, " https://youtu.be/%s?t=%d", m.YouTubeID, m.Timestamp/1000)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// follow prints job progress until the job completes, fails, or stops at
// the fingerprint offer. With autoFingerprint the offer is accepted.
func follow(ctx context.Context, a *app.App, changed <-chan struct{}, w io.Writer, autoFingerprint bool) error {
	var last progress.View
	for {
		snap, err := waitFor(ctx, a, changed, func(s app.Snapshot) bool {
			return s.Job.Visible && jobLine(s.Job) != jobLine(last)
		})
		if err != nil {
			return err
		}
		job := snap.Job
		last = job
		fmt.Fprintln(w, jobLine(job))

		switch {
		case job.Failed:
			return fmt.Errorf("%w: %s", ErrJobFailed, job.Detail)
		case job.Complete:
			return nil
		case job.OfferFingerprint && autoFingerprint:
			a.StartFingerprinting("")
		case job.OfferFingerprint:
			fmt.Fprintln(w, "Run 'fingerprint' to add the song to the library.")
			return nil
		}
	}
}

func jobLine(v progress.View) string {
	line := fmt.Sprintf("%s %3.0f%% %s", v.Icon, v.Percentage, v.Detail)
	if v.Title != "" {
		line += " [" + v.Title
		if v.Artist != "" {
			line += " by " + v.Artist
		}
		line += "]"
	}
	if v.OfferFingerprint {
		line += " (ready to fingerprint)"
	}
	return line
}
