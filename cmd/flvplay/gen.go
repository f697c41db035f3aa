package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/flvplay/internal/flvgen"
)

var (
	genOut      string
	genDuration time.Duration
	genFPS      int
	genGOP      int
	genNoAudio  bool
	genCaption  string
)

var genCmd = &cobra.Command{
	Use:   "gen",
	Short: "Write a synthetic H.264/AAC FLV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}

		f, err := os.Create(genOut)
		if err != nil {
			return err
		}
		w := bufio.NewWriter(f)

		opts := flvgen.Options{Duration: genDuration, FPS: genFPS, GOP: genGOP, Audio: !genNoAudio}
		if genCaption != "" {
			opts.Cues = []flvgen.Cue{{At: 0, Text: genCaption}}
		}
		sum, err := flvgen.Write(w, opts)
		if err == nil {
			err = w.Flush()
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", genOut, err)
		}

		slog.Info("generated", "file", genOut,
			"video", sum.VideoFrames, "keyframes", sum.Keyframes,
			"audio", sum.AudioFrames, "captions", sum.CaptionSEIs)
		return nil
	},
}

func init() {
	f := genCmd.Flags()
	f.StringVarP(&genOut, "out", "o", "out.flv", "output file")
	f.DurationVar(&genDuration, "duration", 10*time.Second, "stream length")
	f.IntVar(&genFPS, "fps", 30, "video frame rate")
	f.IntVar(&genGOP, "gop", 0, "keyframe interval in frames (default one second)")
	f.BoolVar(&genNoAudio, "no-audio", false, "omit the audio track")
	f.StringVar(&genCaption, "caption", "", "pop-on caption shown at the start")
	rootCmd.AddCommand(genCmd)
}
