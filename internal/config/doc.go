// Package config loads the camstage run configuration.
//
// The configuration is a YAML file with three sections: responder (the
// DHCP pool and timings), provisioning (firmware class, credentials,
// baseline settings, network parameters, retry and verification bounds)
// and batch (assignment mode, workers, how long to wait for devices).
// Keys left out of the file keep their Default values, and durations are
// written as Go duration strings such as "30s" or "5m".
//
// # Configuration File Location
//
// Without --config the file is read from:
//   - Linux: $XDG_CONFIG_HOME/camstage/config.yaml or $HOME/.config/camstage/config.yaml
//   - macOS: $HOME/.config/camstage/config.yaml
//   - Windows: %LOCALAPPDATA%\camstage\config.yaml
//
// # Passwords
//
// Passwords may be kept out of the file and supplied through
// CAMSTAGE_ADMIN_PASSWORD, CAMSTAGE_SECONDARY_PASSWORD and
// CAMSTAGE_INTEGRATION_PASSWORD, which override the file. Save writes with
// user-only permissions.
//
// # Usage Example
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	responder, err := cfg.ResponderConfig()
//	opts, err := cfg.ProvisionOptions()
//	mode, err := cfg.BatchMode()
package config
