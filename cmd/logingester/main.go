package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/G-Research/logingester/internal/common"
	"github.com/G-Research/logingester/internal/common/app"
	commonconfig "github.com/G-Research/logingester/internal/common/config"
	"github.com/G-Research/logingester/internal/logingester"
	"github.com/G-Research/logingester/internal/logingester/configuration"
	"github.com/G-Research/logingester/internal/logingester/deadletter"
)

const (
	CustomConfigLocation string = "config"
	ReadDeadLetters      string = "readDeadLetters"
)

func init() {
	pflag.StringSlice(CustomConfigLocation, []string{}, "Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	pflag.String(ReadDeadLetters, "", "Print the records in a dead-letter file as JSON lines instead of ingesting")
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	if path := viper.GetString(ReadDeadLetters); path != "" {
		if err := printDeadLetters(path); err != nil {
			log.Fatal(err)
		}
		return
	}

	var config configuration.LogIngesterConfiguration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)
	common.LoadConfig(&config, "./config/logingester", userSpecifiedConfigs)

	config.Writer = config.Writer.WithDefaults()
	if err := config.Validate(); err != nil {
		commonconfig.LogValidationErrors(err)
		os.Exit(-1)
	}

	if err := logingester.Run(app.CreateContextWithShutdown(), &config, os.Stdin); err != nil {
		log.Fatalf("Log ingester failed: %v", err)
	}
}

func printDeadLetters(path string) error {
	entries, err := deadletter.ReadFile(path)
	if err != nil {
		return err
	}
	return deadletter.WriteEntries(os.Stdout, entries)
}
