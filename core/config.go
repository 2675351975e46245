package core

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/curtisnewbie/evbus/util/strutil"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

var (
	// regex for arg expansion
	resolveArgRegexp = regexp.MustCompile(`\${[a-zA-Z0-9\-\_\.]+}`)

	globalAppConfig = NewAppConfig()
)

// Viper-backed configuration.
type AppConfig struct {
	vp   *viper.Viper
	rwmu *sync.RWMutex
}

func NewAppConfig() *AppConfig {
	return &AppConfig{
		vp:   viper.New(),
		rwmu: &sync.RWMutex{},
	}
}

// Set value for the prop
func (a *AppConfig) SetProp(prop string, val any) {
	a.rwmu.Lock()
	defer a.rwmu.Unlock()
	a.vp.Set(prop, val)
}

// Set default value for the prop
func (a *AppConfig) SetDefProp(prop string, defVal any) {
	a.rwmu.Lock()
	defer a.rwmu.Unlock()
	a.vp.SetDefault(prop, defVal)
}

// Check whether the prop exists
func (a *AppConfig) HasProp(prop string) bool {
	return returnWithReadLock(a, func() bool { return a.vp.IsSet(prop) })
}

// Get prop as string slice
func (a *AppConfig) GetPropStrSlice(prop string) []string {
	return returnWithReadLock(a, func() []string { return a.vp.GetStringSlice(prop) })
}

// Get prop as int
func (a *AppConfig) GetPropInt(prop string) int {
	return returnWithReadLock(a, func() int { return cast.ToInt(a.vp.Get(prop)) })
}

// Get prop as time.Duration
func (a *AppConfig) GetPropDur(prop string, unit time.Duration) time.Duration {
	return time.Duration(a.GetPropInt(prop)) * unit
}

// Get prop as bool
func (a *AppConfig) GetPropBool(prop string) bool {
	return returnWithReadLock(a, func() bool { return a.vp.GetBool(prop) })
}

/*
Get prop as string

If the value is an argument that can be expanded, the actual value will be resolved if possible.

e.g, for "name" : "${secretName}".

This func will attempt to resolve the actual value for '${secretName}'.
*/
func (a *AppConfig) GetPropStr(prop string) string {
	return a.ResolveArg(returnWithReadLock(a, func() string { return a.vp.GetString(prop) }))
}

// Unmarshal configuration from a speicific key.
func (a *AppConfig) UnmarshalFromPropKey(key string, ptr any) error {
	a.rwmu.RLock()
	defer a.rwmu.RUnlock()
	return a.vp.UnmarshalKey(key, ptr)
}

// Overwrite existing conf using environment and cli args.
func (a *AppConfig) OverwriteConf(args []string) {
	// overwrite loaded configuration with environment variables
	a.overwriteConf(ArgKeyVal(os.Environ()))
	// overwrite the loaded configuration with cli arguments
	a.overwriteConf(ArgKeyVal(args))
}

/*
Default way to read config file.

Repetitively calling this method overides previously loaded config.

This func is essentially:

	LoadConfigFromFile(GuessConfigFilePath(args))

Notice that the loaded configuration can be overriden by the cli arguments as well by using `KEY=VALUE` syntax.
*/
func (a *AppConfig) DefaultReadConfig(args []string) {
	defConfigFile := GuessConfigFilePath(args)
	if err := a.LoadConfigFromFile(defConfigFile); err != nil {
		Debugf("Failed to load config file, file: %v, %v", defConfigFile, err)
	} else {
		Infof("Loaded config file: %v", defConfigFile)
	}
	a.OverwriteConf(args)
}

// Load config from io Reader.
//
// It's the caller's responsibility to close the provided reader.
func (a *AppConfig) LoadConfigFromReader(reader io.Reader) error {
	a.rwmu.Lock()
	defer a.rwmu.Unlock()
	a.vp.SetConfigType("yml")
	if err := a.vp.MergeConfig(reader); err != nil {
		return fmt.Errorf("failed to load config from reader: %w", err)
	}
	return nil
}

// Load config from string.
func (a *AppConfig) LoadConfigFromStr(s string) error {
	return a.LoadConfigFromReader(bytes.NewReader(strutil.UnsafeStr2Byt(s)))
}

// Load config from file.
func (a *AppConfig) LoadConfigFromFile(configFile string) error {
	if configFile == "" {
		return nil
	}

	f, err := os.Open(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("unable to find config file: '%s'", configFile)
		}
		return fmt.Errorf("failed to open config file: '%s', %w", configFile, err)
	}
	defer f.Close()

	if err = a.LoadConfigFromReader(f); err != nil {
		return fmt.Errorf("failed to load config file: '%s', %w", configFile, err)
	}
	return nil
}

func (a *AppConfig) overwriteConf(kvs map[string][]string) {
	for k, v := range kvs {
		if len(v) == 1 {
			a.SetProp(k, v[0])
		} else {
			a.SetProp(k, v)
		}
	}
}

// Resolve argument, e.g., for arg like '${someArg}', it will look for 'someArg' in os.Env, then in props.
func (a *AppConfig) ResolveArg(arg string) string {
	return resolveArgRegexp.ReplaceAllStringFunc(arg, func(s string) string {
		key := s[2 : len(s)-1]
		val := GetEnv(key)

		if val == "" {
			val = a.GetPropStr(key)
		}

		if val == "" {
			val = s
		}
		return val
	})
}

// Set value for the prop
func SetProp(prop string, val any) {
	globalAppConfig.SetProp(prop, val)
}

// Set default value for the prop
func SetDefProp(prop string, defVal any) {
	globalAppConfig.SetDefProp(prop, defVal)
}

// Check whether the prop exists
func HasProp(prop string) bool {
	return globalAppConfig.HasProp(prop)
}

// Get prop as string slice
func GetPropStrSlice(prop string) []string {
	return globalAppConfig.GetPropStrSlice(prop)
}

// Get prop as int
func GetPropInt(prop string) int {
	return globalAppConfig.GetPropInt(prop)
}

// Get prop as time.Duration
func GetPropDur(prop string, unit time.Duration) time.Duration {
	return globalAppConfig.GetPropDur(prop, unit)
}

// Get prop as bool
func GetPropBool(prop string) bool {
	return globalAppConfig.GetPropBool(prop)
}

// Get prop as string, '${}' args are resolved.
func GetPropStr(prop string) string {
	return globalAppConfig.GetPropStr(prop)
}

// Unmarshal configuration from a speicific key.
func UnmarshalFromPropKey(key string, ptr any) error {
	return globalAppConfig.UnmarshalFromPropKey(key, ptr)
}

// Overwrite existing conf using environment and cli args.
func OverwriteConf(args []string) {
	globalAppConfig.OverwriteConf(args)
}

// Read config file guessed from the args, then overwrite it with environment and cli args.
func DefaultReadConfig(args []string) {
	globalAppConfig.DefaultReadConfig(args)
}

// Load config from string.
func LoadConfigFromStr(s string) error {
	return globalAppConfig.LoadConfigFromStr(s)
}

// Load config from file.
func LoadConfigFromFile(configFile string) error {
	return globalAppConfig.LoadConfigFromFile(configFile)
}

// Resolve '${someArg}' style variables.
func ResolveArg(arg string) string {
	return globalAppConfig.ResolveArg(arg)
}

func returnWithReadLock[T any](a *AppConfig, f func() T) T {
	a.rwmu.RLock()
	defer a.rwmu.RUnlock()
	return f()
}

// Parse CLI args to key-value map
func ArgKeyVal(args []string) map[string][]string {
	m := map[string][]string{}
	for _, s := range args {
		eq := strings.Index(s, "=")
		if eq == -1 {
			continue
		}

		key := strings.TrimSpace(s[:eq])
		val := strings.TrimSpace(s[eq+1:])
		if prev, ok := m[key]; ok {
			m[key] = append(prev, val)
		} else {
			m[key] = []string{val}
		}
	}
	return m
}

// Get environment variable
func GetEnv(key string) string {
	return os.Getenv(key)
}

// Guess config file path.
//
// It first looks for the arg that matches the pattern "configFile=/path/to/configFile".
// If none is found, it's by default 'conf.yml'.
func GuessConfigFilePath(args []string) string {
	path := ExtractArgValue(args, func(key string) bool { return key == "configFile" })
	if strings.TrimSpace(path) == "" {
		path = "conf.yml"
	}
	return path
}

/*
Parse CLI Arg to extract a value from arg, [key]=[value]

e.g.,

To look for 'configFile=?'.

	path := ExtractArgValue(args, func(key string) bool { return key == "configFile" }).
*/
func ExtractArgValue(args []string, predicate func(key string) bool) string {
	for _, s := range args {
		if eq := strings.Index(s, "="); eq != -1 {
			if key := s[:eq]; predicate(key) {
				return s[eq+1:]
			}
		}
	}
	return ""
}
