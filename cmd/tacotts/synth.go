package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-taco-tts/internal/tts"
)

func newSynthCmd() *cobra.Command {
	var text string
	var out string
	var seed int64

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize text to WAV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			inputText, err := readSynthText(text, os.Stdin)
			if err != nil {
				return err
			}

			svc, err := tts.NewService(activeCfg, nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			wav, err := svc.SynthesizeWAV(cmd.Context(), inputText, seed)
			if err != nil {
				return err
			}

			return writeSynthOutput(out, wav, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to synthesize (if empty, read from stdin)")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed for reproducible output (0 uses configured seed)")

	return cmd
}

// readSynthText returns flagText when set, otherwise reads all of stdin.
func readSynthText(flagText string, stdin io.Reader) (string, error) {
	if flagText != "" {
		return flagText, nil
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("no text provided (use --text or pipe via stdin)")
	}

	return text, nil
}

func writeSynthOutput(out string, wav []byte, stdout io.Writer) error {
	if out == "-" {
		_, err := stdout.Write(wav)
		return err
	}

	if err := os.WriteFile(out, wav, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	return nil
}
