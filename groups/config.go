package groups

import (
	"fmt"
	"io"
	"os"

	"github.com/iancoleman/strcase"
	"go.uber.org/config"

	"github.com/homemade/brigade/roster"
)

// GroupConfig describes one directory group to keep in sync. Loaded once
// per run from the YAML sync config and immutable afterwards.
type GroupConfig struct {
	DisplayName  string `yaml:"displayName"`
	MailNickname string `yaml:"mailNickname"`
	Description  string `yaml:"description"`
	Strategy     string `yaml:"strategy"`

	// Strategy parameters; which ones apply depends on Strategy.
	Positions     []string `yaml:"positions"`
	RankThreshold string   `yaml:"rankThreshold"`
	Station       string   `yaml:"station"`
	Platoon       string   `yaml:"platoon"`
	WorkGroup     string   `yaml:"workGroup"`
	ScheduleMatch string   `yaml:"scheduleMatch"`
}

// Alias returns the group's mail nickname, deriving one from the display
// name when the config doesn't set it explicitly.
func (g GroupConfig) Alias() string {
	if g.MailNickname != "" {
		return g.MailNickname
	}
	return strcase.ToKebab(g.DisplayName)
}

// FullDescription appends the automation notice so nobody edits managed
// memberships by hand expecting them to stick.
func (g GroupConfig) FullDescription() string {
	notice := "Membership is automatically managed. Manual changes will be overwritten."
	if g.Description == "" {
		return notice
	}
	return g.Description + "\n\n" + notice
}

// SyncConfig is the per-run group sync configuration.
type SyncConfig struct {
	RankHierarchy roster.RankHierarchy
	Groups        []GroupConfig
}

// LoadSyncConfig reads the YAML sync configuration, expanding ${ENV_VAR}
// references from the environment. Omitting rankHierarchy keeps the
// department default. Unknown strategy names are not rejected here: they
// are fatal for their group only, at reconcile time.
func LoadSyncConfig(sources ...io.Reader) (SyncConfig, error) {
	var result SyncConfig

	var options []config.YAMLOption
	for _, s := range sources {
		options = append(options, config.Source(s))
	}
	options = append(options, config.Expand(os.LookupEnv))
	yaml, err := config.NewYAML(options...)
	if err != nil {
		return result, fmt.Errorf("failed to read yaml config %w", err)
	}
	readError := func(key string, cause error) error {
		return fmt.Errorf("failed to read '%s' from yaml config %w", key, cause)
	}

	key := "rankHierarchy"
	if yaml.Get(key).HasValue() {
		err = yaml.Get(key).Populate(&result.RankHierarchy)
		if err != nil {
			return result, readError(key, err)
		}
	}
	if len(result.RankHierarchy) == 0 {
		result.RankHierarchy = roster.DefaultRankHierarchy
	}

	key = "groups"
	err = yaml.Get(key).Populate(&result.Groups)
	if err != nil {
		return result, readError(key, err)
	}
	if len(result.Groups) == 0 {
		return result, fmt.Errorf("sync config defines no groups")
	}
	for _, g := range result.Groups {
		if g.DisplayName == "" {
			return result, fmt.Errorf("sync config group with empty displayName")
		}
	}

	return result, nil
}
