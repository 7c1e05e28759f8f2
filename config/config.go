package config

import (
    "log"
    "os"

    "github.com/joho/godotenv"
    "gopkg.in/yaml.v2"
)

type Config struct {
    Server struct {
        Port string `yaml:"port"`
    } `yaml:"server"`
    MySQL struct {
        DSN string `yaml:"dsn"`
    } `yaml:"mysql"`

    Redis struct {
        Addr     string `yaml:"addr"`
        Password string `yaml:"password"`
    } `yaml:"redis"`
    Worker struct {
        Addr string `yaml:"addr"`
    } `yaml:"worker"`
    MinIO struct {
        Endpoint  string `yaml:"endpoint"`
        AccessKey string `yaml:"access_key"`
        SecretKey string `yaml:"secret_key"`
        Bucket    string `yaml:"bucket"`
        UseSSL    bool   `yaml:"use_ssl"`
        Domain    string `yaml:"domain"`
    } `yaml:"minio"`
}

var AppConfig *Config

func InitConfig() {
    // .env 仅本地开发使用, 不存在时忽略
    _ = godotenv.Load()

    f, err := os.Open("config/config.yaml")
    if err != nil {
        log.Fatalf("配置文件读取失败: %v", err)
    }
    defer f.Close()
    decoder := yaml.NewDecoder(f)
    AppConfig = &Config{}
    if err := decoder.Decode(AppConfig); err != nil {
        log.Fatalf("配置文件解析失败: %v", err)
    }

    // 环境变量优先于配置文件, 方便容器部署
    AppConfig.Server.Port = envOr("SERVER_PORT", AppConfig.Server.Port)
    AppConfig.MySQL.DSN = envOr("MYSQL_DSN", AppConfig.MySQL.DSN)
    AppConfig.Redis.Addr = envOr("REDIS_ADDR", AppConfig.Redis.Addr)
    AppConfig.Redis.Password = envOr("REDIS_PASSWORD", AppConfig.Redis.Password)
    AppConfig.Worker.Addr = envOr("WORKER_ADDR", AppConfig.Worker.Addr)
    AppConfig.MinIO.Endpoint = envOr("MINIO_ENDPOINT", AppConfig.MinIO.Endpoint)
    AppConfig.MinIO.AccessKey = envOr("MINIO_ACCESS_KEY", AppConfig.MinIO.AccessKey)
    AppConfig.MinIO.SecretKey = envOr("MINIO_SECRET_KEY", AppConfig.MinIO.SecretKey)
    AppConfig.MinIO.Bucket = envOr("MINIO_BUCKET", AppConfig.MinIO.Bucket)
    AppConfig.MinIO.Domain = envOr("MINIO_DOMAIN", AppConfig.MinIO.Domain)
}

func envOr(key, fallback string) string {
    if v, ok := os.LookupEnv(key); ok && v != "" {
        return v
    }
    return fallback
}
