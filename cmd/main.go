package main

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/dymaxionlabs/satlomas/internal/notification"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func loadEnv() {
	for _, path := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			logrus.Debugf("environment loaded from %s", path)
			return
		}
	}
}

func run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n\nStack trace:\n%s", r, debug.Stack())
		}
	}()
	return rootCmd.Execute()
}

func main() {
	loadEnv()

	if err := run(); err != nil {
		color.Red("Error: %s", firstLine(err.Error()))
		logrus.Debug(err)
		if notifyErr := notification.SendDiscordErrorNotification(fmt.Sprintf("SatLomas CLI\n\n%s: %s", strings.Join(os.Args[1:], " "), err)); notifyErr != nil {
			color.Red("Failed to send notification: %s", notifyErr)
		}
		os.Exit(1)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
