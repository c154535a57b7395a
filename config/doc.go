// Package config loads rediskit configuration with Viper.
//
// LoadConfig looks for config.yml and .env files in the usual locations
// (cmd/<service>/, config/, the working directory), loads the .env file into
// the process environment, and lets environment variables override file
// values. Environment variable names follow the mapstructure path with
// underscores:
//
//	REDIS_CONNECTION=primary
//	REDIS_CONNECTIONS_PRIMARY_HOST=redis.internal
//	REDIS_CONNECTIONS_PRIMARY_PORT=6380
//	REDIS_CONNECTIONS_SESSIONS_CLUSTERS=10.0.0.1:7000,10.0.0.2:7000
//
// # Usage
//
//	var cfg Config
//	if err := config.LoadConfig("redis-report", &cfg); err != nil {
//	    return err
//	}
package config
