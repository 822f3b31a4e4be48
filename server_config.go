/*
	Copyright NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package xweb

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/identity"
	"github.com/pkg/errors"
)

// ServerConfig is the configuration of one named server (connector): the bind points it listens on, its timeouts
// and the identity used for TLS. Contexts may restrict themselves to servers by name.
type ServerConfig struct {
	Name       string
	BindPoints []*BindPointConfig
	Options    Options

	DefaultIdentity identity.Identity
	Identity        identity.Identity
}

// Parse parses a configuration map to set all relevant ServerConfig values.
func (config *ServerConfig) Parse(configMap map[interface{}]interface{}, pathContext string) error {
	//parse name, required, string
	if nameInterface, ok := configMap["name"]; ok {
		if name, ok := nameInterface.(string); ok {
			config.Name = name
		} else {
			return errors.New("name is required to be a string")
		}
	} else {
		return errors.New("name is required")
	}

	//parse bindPoints
	if bindPointArrVal, ok := configMap["bindPoints"]; ok {
		if bindPointArr, ok := bindPointArrVal.([]interface{}); ok {
			for i, bp := range bindPointArr {
				if bpMap, ok := bp.(map[interface{}]interface{}); ok {
					bindPoint := &BindPointConfig{}
					if err := bindPoint.Parse(bpMap); err != nil {
						return errors.Wrapf(err, "error parsing bindPoint configuration at index [%d]", i)
					}
					config.BindPoints = append(config.BindPoints, bindPoint)
				} else {
					return fmt.Errorf("error parsing bindPoint configuration at index [%d]: not a map", i)
				}
			}
		} else {
			return errors.New("bindPoints must be an array")
		}
	} else {
		return errors.New("bindPoints is required")
	}

	//parse identity
	if identityInterface, ok := configMap["identity"]; ok {
		if identityMap, ok := identityInterface.(map[interface{}]interface{}); ok {
			if identityConfig, err := parseIdentityConfig(identityMap, pathContext+".identity"); err == nil {
				config.Identity, err = identity.LoadIdentity(*identityConfig)
				if err != nil {
					return fmt.Errorf("error loading identity: %v", err)
				}

				if err := config.Identity.WatchFiles(); err != nil {
					pfxlog.Logger().Warnf("could not enable file watching on server identity: %v", err)
				}
			} else {
				return fmt.Errorf("error parsing identity section: %v", err)
			}
		} else {
			return errors.New("identity section must be a map if defined")
		}
	} //no else, optional, will defer to the default identity or plain http

	//parse options
	config.Options = Options{}
	config.Options.Default()

	if optionsInterface, ok := configMap["options"]; ok {
		if optionMap, ok := optionsInterface.(map[interface{}]interface{}); ok {
			if err := config.Options.Parse(optionMap); err != nil {
				return fmt.Errorf("error parsing options section: %v", err)
			}
		} //no else, options are optional
	}

	return nil
}

// Validate all ServerConfig values
func (config *ServerConfig) Validate() error {
	if config.Name == "" {
		return errors.New("name must not be empty")
	}

	if len(config.BindPoints) == 0 {
		return errors.New("no bindPoint specified, must specify at lest one")
	}

	for i, bp := range config.BindPoints {
		if bp == nil {
			return errors.New("a nil bindPoint was processed")
		}
		if err := bp.Validate(); err != nil {
			return fmt.Errorf("invalid bindPoint at index [%d]: %v", i, err)
		}
	}

	if config.Identity == nil {
		config.Identity = config.DefaultIdentity
	}

	if err := config.Options.TlsVersionOptions.Validate(); err != nil {
		return fmt.Errorf("invalid TLS version option: %v", err)
	}

	if err := config.Options.TimeoutOptions.Validate(); err != nil {
		return fmt.Errorf("invalid timeout option: %v", err)
	}

	return nil
}

// TLSConfig returns the server side TLS configuration or nil if the server has no identity and serves plain http
func (config *ServerConfig) TLSConfig() *tls.Config {
	if config.Identity == nil {
		return nil
	}
	tlsConfig := config.Identity.ServerTLSConfig()
	tlsConfig.ClientAuth = tls.RequestClientCert
	tlsConfig.MinVersion = uint16(config.Options.MinTLSVersion)
	tlsConfig.MaxVersion = uint16(config.Options.MaxTLSVersion)
	return tlsConfig
}

// Options is the shared options for a ServerConfig.
type Options struct {
	TimeoutOptions
	TlsVersionOptions
}

// Default provides defaults for all necessary values
func (options *Options) Default() {
	options.TimeoutOptions.Default()
	options.TlsVersionOptions.Default()
}

// Parse parses a configuration map
func (options *Options) Parse(optionsMap map[interface{}]interface{}) error {
	if err := options.TimeoutOptions.Parse(optionsMap); err != nil {
		return fmt.Errorf("error parsing options: %v", err)
	}

	if err := options.TlsVersionOptions.Parse(optionsMap); err != nil {
		return fmt.Errorf("error parsing options: %v", err)
	}

	return nil
}

// TimeoutOptions represents http timeout options
type TimeoutOptions struct {
	ReadTimeout  time.Duration
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
}

// Default defaults all HTTP timeout options
func (timeoutOptions *TimeoutOptions) Default() {
	timeoutOptions.WriteTimeout = DefaultHttpWriteTimeout
	timeoutOptions.ReadTimeout = DefaultHttpReadTimeout
	timeoutOptions.IdleTimeout = DefaultHttpIdleTimeout
}

// Parse parses a config map
func (timeoutOptions *TimeoutOptions) Parse(config map[interface{}]interface{}) error {
	for key, target := range map[string]*time.Duration{
		"readTimeout":  &timeoutOptions.ReadTimeout,
		"idleTimeout":  &timeoutOptions.IdleTimeout,
		"writeTimeout": &timeoutOptions.WriteTimeout,
	} {
		if interfaceVal, ok := config[key]; ok {
			durationStr, ok := interfaceVal.(string)
			if !ok {
				return errors.Errorf("could not use value for %s, not a string", key)
			}
			duration, err := time.ParseDuration(durationStr)
			if err != nil {
				return fmt.Errorf("could not parse %s %s as a duration (e.g. 1m): %v", key, durationStr, err)
			}
			*target = duration
		}
	}
	return nil
}

// Validate validates all settings and return nil or an error
func (timeoutOptions *TimeoutOptions) Validate() error {
	if timeoutOptions.WriteTimeout <= 0 {
		return fmt.Errorf("value [%s] for writeTimeout too low, must be positive", timeoutOptions.WriteTimeout.String())
	}

	if timeoutOptions.ReadTimeout <= 0 {
		return fmt.Errorf("value [%s] for readTimeout too low, must be positive", timeoutOptions.ReadTimeout.String())
	}

	if timeoutOptions.IdleTimeout <= 0 {
		return fmt.Errorf("value [%s] for idleTimeout too low, must be positive", timeoutOptions.IdleTimeout.String())
	}

	return nil
}

// TlsVersionOptions represents TLS version options
type TlsVersionOptions struct {
	MinTLSVersion    int
	minTLSVersionStr string

	MaxTLSVersion    int
	maxTLSVersionStr string
}

// Default defaults TLS versions
func (tlsVersionOptions *TlsVersionOptions) Default() {
	tlsVersionOptions.MinTLSVersion = MinTLSVersion
	tlsVersionOptions.MaxTLSVersion = MaxTLSVersion
}

// Parse parses a config map
func (tlsVersionOptions *TlsVersionOptions) Parse(config map[interface{}]interface{}) error {
	if interfaceVal, ok := config["minTLSVersion"]; ok {
		var ok bool
		if tlsVersionOptions.minTLSVersionStr, ok = interfaceVal.(string); ok {
			if minTLSVersion, ok := TlsVersionMap[tlsVersionOptions.minTLSVersionStr]; ok {
				tlsVersionOptions.MinTLSVersion = minTLSVersion
			} else {
				return fmt.Errorf("could not use value for minTLSVersion, invalid value [%s]", tlsVersionOptions.minTLSVersionStr)
			}
		} else {
			return errors.New("could not use value for minTLSVersion, not an string")
		}
	}

	if interfaceVal, ok := config["maxTLSVersion"]; ok {
		var ok bool
		if tlsVersionOptions.maxTLSVersionStr, ok = interfaceVal.(string); ok {
			if maxTLSVersion, ok := TlsVersionMap[tlsVersionOptions.maxTLSVersionStr]; ok {
				tlsVersionOptions.MaxTLSVersion = maxTLSVersion
			} else {
				return fmt.Errorf("could not use value for maxTLSVersion, invalid value [%s]", tlsVersionOptions.maxTLSVersionStr)
			}
		} else {
			return errors.New("could not use value for maxTLSVersion, not an string")
		}
	}

	return nil
}

// Validate validates the configuration values and returns nil or error
func (tlsVersionOptions *TlsVersionOptions) Validate() error {
	if tlsVersionOptions.MinTLSVersion > tlsVersionOptions.MaxTLSVersion {
		return fmt.Errorf("minTLSVersion [%s] must be less than or equal to maxTLSVersion [%s]", tlsVersionOptions.minTLSVersionStr, tlsVersionOptions.maxTLSVersionStr)
	}

	return nil
}
