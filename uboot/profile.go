package uboot

import (
	"fmt"
	"regexp"
	"time"
)

// Profile describes one bootloader variant: how its prompt looks, how to
// interrupt autoboot and how patient to be with it. Profiles are loaded by
// the configuration layer and are immutable for the life of a session.
type Profile struct {
	Name           string        `mapstructure:"name" yaml:"name" json:"name"`
	PromptPattern  string        `mapstructure:"prompt_pattern" yaml:"prompt_pattern" json:"prompt_pattern"`
	BaudRate       int           `mapstructure:"baud_rate" yaml:"baud_rate" json:"baud_rate"`
	InterruptKey   string        `mapstructure:"interrupt_keystroke" yaml:"interrupt_keystroke" json:"interrupt_keystroke"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout" json:"command_timeout"`
	GrammarVariant string        `mapstructure:"grammar_variant" yaml:"grammar_variant" json:"grammar_variant"`
}

func (p Profile) String() string {
	return fmt.Sprintf("%s (prompt: %q, %d baud)", p.Name, p.PromptPattern, p.BaudRate)
}

// DefaultProfile matches mainline U-Boot builds.
func DefaultProfile() Profile {
	return Profile{
		Name:           "uboot",
		PromptPattern:  `(=>|[\w-]+\s?#)\s$`,
		BaudRate:       115200,
		InterruptKey:   "any",
		CommandTimeout: 3 * time.Second,
		GrammarVariant: VariantStandard,
	}
}

// Grammar variants seen in the wild. HiSilicon camera SoCs ship a vendor
// U-Boot with slightly different flash-info wording.
const (
	VariantStandard  = "standard"
	VariantHiSilicon = "hisilicon"
)

// compile validates the profile and resolves the derived fields the session
// needs: the prompt matcher and the interrupt keystroke.
func (p Profile) compile() (*regexp.Regexp, Key, error) {
	if p.PromptPattern == "" {
		return nil, Key{}, fmt.Errorf("profile %q has no prompt pattern", p.Name)
	}
	prompt, err := regexp.Compile(p.PromptPattern)
	if err != nil {
		return nil, Key{}, fmt.Errorf("profile %q has invalid prompt pattern: %w", p.Name, err)
	}
	key, err := ParseKey(p.InterruptKey)
	if err != nil {
		return nil, Key{}, fmt.Errorf("profile %q: %w", p.Name, err)
	}
	return prompt, key, nil
}
