package main

import (
	"fmt"
	"image/png"
	"os"

	"github.com/spf13/cobra"

	"jordanella.com/scenario-detector/internal/adb"
	"jordanella.com/scenario-detector/internal/cv"
)

var captureArea string

var captureCmd = &cobra.Command{
	Use:   "capture OUTPUT.png",
	Short: "Save a screenshot of the device, for building reference images",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		device, err := adb.ConnectADB(ctx, cfg.ADB.Path, cfg.ADB.Serial)
		if err != nil {
			return err
		}
		defer device.Disconnect(ctx)

		img, err := device.Screencap(ctx)
		if err != nil {
			return err
		}

		if captureArea != "" {
			area, err := parseArea(captureArea)
			if err != nil {
				return err
			}
			cropped, err := cv.CropRegion(img, area)
			if err != nil {
				return fmt.Errorf("area %v outside of the %v screen: %w", area, img.Bounds().Size(), err)
			}
			img = cropped
		}

		file, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", args[0], err)
		}
		defer file.Close()

		if err := png.Encode(file, img); err != nil {
			return fmt.Errorf("failed to encode screenshot: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Saved %dx%d capture to %s\n", img.Bounds().Dx(), img.Bounds().Dy(), args[0])
		return nil
	},
}

func init() {
	captureCmd.Flags().StringVar(&captureArea, "area", "", "Only keep the area x1,y1,x2,y2")
}
