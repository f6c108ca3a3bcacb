package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

func WatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <image>",
		Short: "Re-serve a firmware image over TFTP whenever it changes",
		Long: "Watch monitors a firmware image and re-arms a one-shot TFTP server every time\n" +
			"the file is rewritten. Useful while iterating on an image with the device in a\n" +
			"tftpboot retry loop.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			serve := ServeCmd()
			serve.SetContext(cmd.Context())
			copyFlags(cmd, serve, "device", "deadline", "tftp-port")

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			// The parent directory is watched because editors and build
			// systems replace files instead of writing them in place.
			if err := watcher.Add(filepath.Dir(image)); err != nil {
				return err
			}

			log := GetLogger(cmd.Context())
			for {
				if err := serve.RunE(serve, []string{image}); err != nil {
					log.Warn().Err(err).Msg("serve round failed")
				}

				fmt.Printf("Waiting for %s to change ...\n", image)
				if err := awaitChange(cmd, watcher, image); err != nil {
					return err
				}
				// Give the writer a moment to finish the file.
				time.Sleep(200 * time.Millisecond)
			}
		},
	}

	cmd.Flags().StringP("device", "d", "", "IP address the device will use")
	cmd.Flags().Duration("deadline", 10*time.Minute, "how long to wait for each transfer")
	cmd.Flags().Int("tftp-port", 69, "UDP port to serve TFTP on")
	cmd.MarkFlagRequired("device")
	return cmd
}

func awaitChange(cmd *cobra.Command, watcher *fsnotify.Watcher, image string) error {
	for {
		select {
		case event := <-watcher.Events:
			if event.Name != image {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				return nil
			}
		case err := <-watcher.Errors:
			return err
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}
	}
}

func copyFlags(from, to *cobra.Command, names ...string) {
	for _, name := range names {
		if flag := from.Flags().Lookup(name); flag != nil {
			to.Flags().Set(name, flag.Value.String())
		}
	}
}
