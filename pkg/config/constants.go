package config

// EnvPrefix is the envconfig prefix shared by all services.
const EnvPrefix = "codequest"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "CODEQUEST_DB_DSN"
	EnvDBHost = "CODEQUEST_DB_HOST"
	EnvDBUser = "CODEQUEST_DB_USER"
	EnvDBName = "CODEQUEST_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
