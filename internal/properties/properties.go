package properties

import (
	"os"
	"path/filepath"
)

func RootPath() string {
	if root := os.Getenv("ROOT_PATH"); root != "" {
		return root
	}
	return "."
}

func DataPath(elem ...string) string {
	return filepath.Join(append([]string{RootPath(), "data"}, elem...)...)
}

func CopernicusClientIDs() string {
	return os.Getenv("COPERNICUS_CLIENT_ID")
}

func CopernicusClientSecrets() string {
	return os.Getenv("COPERNICUS_CLIENT_SECRET")
}

func CopernicusTokenURL() string {
	return os.Getenv("COPERNICUS_TOKEN_URL")
}

func EarthdataUsername() string {
	return os.Getenv("EARTHDATA_USERNAME")
}

func EarthdataPassword() string {
	return os.Getenv("EARTHDATA_PASSWORD")
}

// AWSRegion is the region of the Sentinel open data buckets.
func AWSRegion() string {
	if region := os.Getenv("AWS_REGION"); region != "" {
		return region
	}
	return "eu-central-1"
}

func DiscordErrorNotificationUrl() string {
	return os.Getenv("DISCORD_ERROR_NOTIFICATION_URL")
}

func DiscordSuccessNotificationUrl() string {
	return os.Getenv("DISCORD_SUCCESS_NOTIFICATION_URL")
}

func DiscordWarnNotificationUrl() string {
	return os.Getenv("DISCORD_WARN_NOTIFICATION_URL")
}
