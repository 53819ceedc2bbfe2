// Package config loads the stanza router configuration.
//
// Values are read with viper from a YAML file, by default
// $HOME/.go-stanzarouter/config.yaml, which is created from the defaults on
// first start. Defaults is the single source of default values: setDefaults
// feeds it to viper and the tests compare the two.
//
// NewRouterConfigFromViper snapshots the current viper state into a
// RouterConfig. Callers should run Validate on the result before building
// the router from it.
package config
