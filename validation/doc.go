// Package validation validates rediskit configuration structs.
//
// Struct tag validation uses go-playground/validator and reports field names
// by their mapstructure keys, so messages line up with the YAML and
// environment variable names a user actually wrote:
//
//	type ClusterNode struct {
//	    Host string `mapstructure:"host" validate:"required"`
//	    Port int    `mapstructure:"port" validate:"min=1,max=65535"`
//	}
//	err := validation.Validate(node)
//
// Cross-field rules that do not fit a tag are collected with a Validator:
//
//	v := validation.New()
//	v.Custom(err == nil, "health.memory_threshold", "must be a size such as 512MB")
//	v.Merge("connections.cache", cache.Validate())
//	err := v.Validate()
//
// Every failure is an *errors.AppError with code INVALID_CONFIG.
package validation
