package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chalmers-revere/cloudrec/internal/envelope"
)

// CreateInspectCmd creates the inspect command.
func CreateInspectCmd() *cobra.Command {
	var payloadBytes int

	cmd := &cobra.Command{
		Use:   "inspect <recording>",
		Short: "List the records inside a recording file",
		Long: `Splits a recording into its envelope records and prints one line per
record with type id, sender stamp, sample timestamp, and payload size.
The walk stops at the first record that cannot be split cleanly.`,
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := inspectRecording(os.Stdout, args[0], payloadBytes); err != nil {
				fmt.Fprintf(os.Stderr, "cloudrec: %v\n", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().IntVar(&payloadBytes, "payload", 0, "Hex dump up to this many payload bytes per record")
	return cmd
}

func inspectRecording(w io.Writer, path string, payloadBytes int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := envelope.NewReader(f)
	var (
		index       int
		totalBytes  int
		sampled     bool
		firstSample time.Time
		lastSample  time.Time
	)
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", index, err)
		}
		env, err := envelope.Unmarshal(rec)
		if err != nil {
			return fmt.Errorf("record %d: %w", index, err)
		}

		line := fmt.Sprintf("%6d  type %-6d sender %-4d sample %-35s %8d bytes",
			index, env.DataType, env.SenderStamp,
			env.SampleTimeStamp.Time().Format(time.RFC3339Nano),
			len(env.SerializedData))
		if env.DataType == envelope.ImageReadingID {
			if ir, derr := envelope.UnmarshalImageReading(env.SerializedData); derr == nil {
				line += fmt.Sprintf("  %s %dx%d", ir.FourCC, ir.Width, ir.Height)
			}
		}
		fmt.Fprintln(w, line)
		if payloadBytes > 0 {
			fmt.Fprint(w, hex.Dump(env.SerializedData[:min(payloadBytes, len(env.SerializedData))]))
		}

		if !env.SampleTimeStamp.IsZero() {
			sample := env.SampleTimeStamp.Time()
			if !sampled || sample.Before(firstSample) {
				firstSample = sample
			}
			if !sampled || sample.After(lastSample) {
				lastSample = sample
			}
			sampled = true
		}
		totalBytes += len(rec)
		index++
	}

	if index == 0 {
		fmt.Fprintln(w, "empty recording")
		return nil
	}
	fmt.Fprintf(w, "%d records, %d bytes", index, totalBytes)
	if sampled {
		if span := lastSample.Sub(firstSample); span > 0 {
			fmt.Fprintf(w, ", %s of samples", span.Round(time.Millisecond))
		}
	}
	fmt.Fprintln(w)
	return nil
}
