package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix namespaces the environment variables that stand in for flags,
// e.g. CATEGORYASSERT_CATEGORY=Unit,Integration.
const envPrefix = "CATEGORYASSERT"

// applyEnv sets every flag not given on the command line from its
// environment variable. List flags accept comma-separated values.
func applyEnv(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	values := map[string]string{}
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || f.Name == "help" || f.Name == "version" {
			return
		}
		if val := v.GetString(f.Name); val != "" {
			values[f.Name] = val
		}
	})
	for name, val := range values {
		if err := fs.Set(name, val); err != nil {
			return fmt.Errorf("%s_%s: %w", envPrefix, strings.ToUpper(name), err)
		}
	}
	return nil
}
