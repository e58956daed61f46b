package backends

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// PostgresConfig configures the postgres backend.
type PostgresConfig struct {
	ConnString string
	MaxConns   int32
	MinConns   int32
}
