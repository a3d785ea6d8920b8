package config

import (
	"errors"
	"fmt"
	"regexp"
)

var bitratePattern = regexp.MustCompile(`^[0-9]+k$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Listen == "" {
		return errors.New("server.listen must be set")
	}
	return nil
}

func (c *Config) validateBackend() error {
	if c.Backend.VersionTimeoutSeconds <= 0 {
		return errors.New("backend.version_timeout_seconds must be positive")
	}
	if c.Backend.TitleTimeoutSeconds <= 0 {
		return errors.New("backend.title_timeout_seconds must be positive")
	}
	if c.Backend.LibraryTimeoutSeconds <= 0 {
		return errors.New("backend.library_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.ProgressGraceSeconds <= 0 {
		return errors.New("retention.progress_grace_seconds must be positive")
	}
	if c.Retention.SessionTTLSeconds <= 0 {
		return errors.New("retention.session_ttl_seconds must be positive")
	}
	if c.Retention.SessionTTLSeconds < c.Retention.ProgressGraceSeconds {
		return errors.New("retention.session_ttl_seconds must not be shorter than retention.progress_grace_seconds")
	}
	if c.Retention.SweepIntervalSeconds <= 0 {
		return errors.New("retention.sweep_interval_seconds must be positive")
	}
	return nil
}

func (c *Config) validateAudio() error {
	if !bitratePattern.MatchString(c.Audio.Bitrate) {
		return fmt.Errorf("audio.bitrate: unsupported value %q (expected like 192k)", c.Audio.Bitrate)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
