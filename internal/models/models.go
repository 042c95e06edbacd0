package models

// Config holds the full runtime configuration for the relay bot.
// Values are merged by Viper from defaults, config.toml, environment
// variables and CLI flags.
type Config struct {
	// BotToken is the Telegram bot API token issued by BotFather.
	BotToken string `mapstructure:"bottoken"`

	// AuthorizedUsers is the static allow-list of Telegram user IDs
	// permitted to interact with the bot.
	AuthorizedUsers []int64 `mapstructure:"authorizedusers"`

	// DownloadDir is the scratch directory downloads are streamed into
	// before being relayed and deleted.
	DownloadDir string `mapstructure:"downloaddir"`

	// HistoryPath is the bitcask directory for the transfer history.
	// Defaults to <DownloadDir>/history when empty.
	HistoryPath string `mapstructure:"historypath"`

	// BatchDelaySec is the fixed pause between batch items.
	BatchDelaySec int `mapstructure:"batchdelaysec"`

	// PollTimeoutSec is the Telegram long-poll timeout.
	PollTimeoutSec int `mapstructure:"polltimeoutsec"`

	// APIClientTimeoutSec bounds the Mega metadata API calls. Download
	// streaming uses its own client without a deadline.
	APIClientTimeoutSec int `mapstructure:"apiclienttimeoutsec"`

	// LogApiRequests mirrors the --log-api flag; when set, Mega API
	// traffic is appended to api.log under DownloadDir.
	LogApiRequests bool `mapstructure:"logapirequests"`

	LogLevel  string `mapstructure:"loglevel"`
	LogFormat string `mapstructure:"logformat"`
}
