package config

import (
	"os"
	"strings"
	"time"

	"DMSync/data/database/mgo/mongoutil"
	"DMSync/logger"
	"DMSync/service/blob"
	"DMSync/service/kafka"
	"DMSync/service/natsx"
	redis "DMSync/service/storage/redis"
	"DMSync/tools/errs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "dmsync"

const (
	LiveSourceDirect       = "direct"       // 写入方直接发布变更
	LiveSourceChangeStream = "changestream" // 由 Mongo change stream 投影
)

type Config struct {
	Env      string `envconfig:"env" default:"dev"`
	Port     int    `envconfig:"port" default:"8080"`
	NodeID   int64  `envconfig:"node_id" default:"1"`
	LogLevel string `envconfig:"log_level" default:"debug"`

	JWTSecret string        `envconfig:"jwt_secret"`
	JWTTTL    time.Duration `envconfig:"jwt_ttl" default:"2h"`

	MongoURI      string `envconfig:"mongo_uri"`
	MongoAddress  string `envconfig:"mongo_address"` // 逗号分隔
	MongoDatabase string `envconfig:"mongo_database" default:"dmsync"`
	MongoUser     string `envconfig:"mongo_user"`
	MongoPassword string `envconfig:"mongo_password"`
	MongoPoolSize int    `envconfig:"mongo_pool_size" default:"20"`
	MongoMaxRetry int    `envconfig:"mongo_max_retry" default:"3"`

	RedisAddr     string `envconfig:"redis_addr"`
	RedisPassword string `envconfig:"redis_password"`
	RedisDB       int    `envconfig:"redis_db"`

	NatsServers  string `envconfig:"nats_servers"` // 逗号分隔
	NatsName     string `envconfig:"nats_name" default:"dmsync"`
	NatsUser     string `envconfig:"nats_user"`
	NatsPassword string `envconfig:"nats_password"`

	KafkaBrokers string `envconfig:"kafka_brokers"` // 逗号分隔
	KafkaTopic   string `envconfig:"kafka_topic" default:"dm.message.sent"`
	KafkaGroupID string `envconfig:"kafka_group_id" default:"dmsync-notifier"`
	KafkaVersion string `envconfig:"kafka_version" default:"2.1.0"`

	S3Region    string `envconfig:"s3_region"`
	S3Bucket    string `envconfig:"s3_bucket"`
	S3AccessKey string `envconfig:"s3_access_key"`
	S3SecretKey string `envconfig:"s3_secret_key"`
	S3Endpoint  string `envconfig:"s3_endpoint"`
	S3PublicURL string `envconfig:"s3_public_url"`

	LiveSource     string `envconfig:"live_source" default:"direct"`
	AllowedOrigins string `envconfig:"allowed_origins"` // 逗号分隔，空表示不限制
}

// Load 读取 .env（非 release 模式）再读取环境变量 DMSYNC_*
func Load() (*Config, error) {
	if os.Getenv("GIN_MODE") != "release" {
		if err := godotenv.Load("./.env"); err != nil {
			logger.Infof("[config] no .env loaded: %v", err)
		}
	}

	c := &Config{}
	if err := envconfig.Process(envPrefix, c); err != nil {
		return nil, errs.WrapMsg(err, "process env config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errs.ErrInvalidArgument.WrapMsg("jwt secret is required")
	}
	if c.MongoURI == "" && c.MongoAddress == "" {
		return errs.ErrInvalidArgument.WrapMsg("mongo uri or address is required")
	}
	switch c.LiveSource {
	case LiveSourceDirect, LiveSourceChangeStream:
	default:
		return errs.ErrInvalidArgument.WrapMsg("unknown live source", "value", c.LiveSource)
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return errs.ErrInvalidArgument.WrapMsg("s3 region is required with a bucket")
	}
	return nil
}

func (c *Config) Mongo() *mongoutil.Config {
	return &mongoutil.Config{
		Uri:         c.MongoURI,
		Address:     splitList(c.MongoAddress),
		Database:    c.MongoDatabase,
		Username:    c.MongoUser,
		Password:    c.MongoPassword,
		MaxPoolSize: c.MongoPoolSize,
		MaxRetry:    c.MongoMaxRetry,
	}
}

func (c *Config) Origins() []string { return splitList(c.AllowedOrigins) }

// Redis returns nil when redis is not configured.
func (c *Config) Redis() *redis.Config {
	if c.RedisAddr == "" {
		return nil
	}
	return &redis.Config{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

func (c *Config) Nats() *natsx.NatsxConfig {
	servers := splitList(c.NatsServers)
	if len(servers) == 0 {
		return nil
	}
	return &natsx.NatsxConfig{
		Servers:  servers,
		Name:     c.NatsName,
		User:     c.NatsUser,
		Password: c.NatsPassword,
	}
}

func (c *Config) Kafka() *kafka.Config {
	brokers := splitList(c.KafkaBrokers)
	if len(brokers) == 0 {
		return nil
	}
	return &kafka.Config{
		Brokers: brokers,
		Topic:   c.KafkaTopic,
		GroupID: c.KafkaGroupID,
		Version: c.KafkaVersion,
	}
}

func (c *Config) S3() *blob.S3Config {
	if c.S3Bucket == "" {
		return nil
	}
	return &blob.S3Config{
		Region:        c.S3Region,
		Bucket:        c.S3Bucket,
		AccessKeyID:   c.S3AccessKey,
		SecretKey:     c.S3SecretKey,
		Endpoint:      c.S3Endpoint,
		PublicBaseURL: c.S3PublicURL,
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
