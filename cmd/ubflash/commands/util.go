package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.bug.st/serial"
	"gopkg.in/yaml.v2"

	"github.com/ubflash/ubflash/cmd/ubflash/directory"
	"github.com/ubflash/ubflash/uboot"
)

func GetConfig() (*viper.Viper, error) {
	cfg, err := directory.GetUserConfig()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func ConfiguredPort() string {
	cfg, err := GetConfig()
	if err != nil {
		return ""
	}
	return cfg.GetString("port")
}

func getProfile(cmd *cobra.Command) (uboot.Profile, error) {
	name, err := cmd.Flags().GetString("profile")
	if err != nil {
		return uboot.Profile{}, err
	}
	cfg, err := GetConfig()
	if err != nil {
		return uboot.Profile{}, err
	}
	return directory.GetProfile(cfg, name)
}

func serialOpen(port string, mode *serial.Mode) (*serialPort, error) {
	dev, err := serial.Open(port, mode)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("the port '%s' was not found", port)
	}
	if err != nil {
		return nil, err
	}

	return &serialPort{dev}, err
}

type serialPort struct {
	serial.Port
}

func (s serialPort) Read(buf []byte) (n int, err error) {
	n, err = s.Port.Read(buf)
	if err == nil && n == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	return n, err
}

// openSession opens the configured serial port with the profile's baud
// rate and establishes the console: either by catching the autoboot
// countdown, or, with resume, by probing a device already sitting at its
// prompt.
func openSession(ctx context.Context, cmd *cobra.Command, profile uboot.Profile) (*uboot.Session, error) {
	port, err := cmd.Flags().GetString("port")
	if err != nil {
		return nil, err
	}
	if port, err = CheckPort(port); err != nil {
		return nil, err
	}
	resume, err := cmd.Flags().GetBool("resume")
	if err != nil {
		return nil, err
	}

	dev, err := serialOpen(port, &serial.Mode{BaudRate: profile.BaudRate})
	if err != nil {
		return nil, err
	}

	session, err := uboot.NewSession(dev, profile)
	if err != nil {
		dev.Close()
		return nil, err
	}

	log := GetLogger(ctx)
	if resume {
		log.Info().Str("port", port).Msg("probing for an existing bootloader prompt")
		err = session.Synchronize(ctx)
	} else {
		log.Info().Str("port", port).Msg("waiting for the autoboot countdown, power-cycle the device now")
		err = session.InterruptBoot(ctx)
	}
	if err != nil {
		session.Close()
		return nil, err
	}
	log.Info().Str("session", session.ID().String()).Msg("bootloader prompt reached")
	return session, nil
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("port", "p", ConfiguredPort(), "serial port the console is attached to")
	cmd.Flags().String("profile", "", "device profile from the user config")
	cmd.Flags().Bool("resume", false, "assume the device already sits at its bootloader prompt")
}

type encoder interface {
	Encode(interface{}) error
}

func parseOutputFlag(cmd *cobra.Command) (encoder, error) {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(output) {
	case "json":
		return json.NewEncoder(os.Stdout), nil
	case "yaml":
		return yaml.NewEncoder(os.Stdout), nil
	case "short":
		return newShortEncoder(os.Stdout), nil
	default:
		return nil, fmt.Errorf("--output flag '%s' was not recognized. Must be either json, yaml or short.", output)
	}
}

type shortEncoder struct {
	w io.Writer
}

func newShortEncoder(w io.Writer) *shortEncoder {
	return &shortEncoder{
		w: w,
	}
}

type Elements interface {
	Elements() []Short
}

type Short interface {
	Short() string
}

func (s *shortEncoder) Encode(v interface{}) error {
	es, ok := v.(Elements)
	if !ok {
		return fmt.Errorf("value type %T was not compatible with the Elements interface", v)
	}
	for _, e := range es.Elements() {
		fmt.Fprintln(s.w, e.Short())
	}
	return nil
}
