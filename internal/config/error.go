package config

// ConfigInitError reports a configuration that cannot produce a usable
// volume set.
type ConfigInitError struct {
	msg string
}

func (e *ConfigInitError) Error() string {
	return e.msg
}
