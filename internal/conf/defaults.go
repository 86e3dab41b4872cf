package conf

import (
	"github.com/spf13/viper"
)

// setDefaultConfig sets viper defaults for every configuration
// parameter.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "TableCap")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "tablecap.log")

	viper.SetDefault("tables", []string{"table_1"})

	viper.SetDefault("primary.watchpath", "./gfx")
	viper.SetDefault("primary.filepattern", "*.json")
	viper.SetDefault("primary.pollintervalseconds", 2.0)
	viper.SetDefault("primary.settledelayseconds", 1.0)
	viper.SetDefault("primary.journalpath", "./data/processed_files.json")
	viper.SetDefault("primary.maxreconnectattempts", 5)

	viper.SetDefault("secondary.confidencethreshold", 0.80)

	viper.SetDefault("fusion.timestamptoleranceseconds", 10.0)

	viper.SetDefault("fallback.enabled", true)
	viper.SetDefault("fallback.path", "./fallback")
	viper.SetDefault("fallback.journalpath", "./data/processed_fallback_files.json")
	viper.SetDefault("fallback.primarytimeoutseconds", 30)
	viper.SetDefault("fallback.secondarytimeoutseconds", 60)
	viper.SetDefault("fallback.mismatchthreshold", 3)

	viper.SetDefault("health.checkintervalseconds", 10)
	viper.SetDefault("health.maxreconnectattempts", 5)

	viper.SetDefault("device.host", "127.0.0.1")
	viper.SetDefault("device.port", 8088)
	viper.SetDefault("device.timeoutseconds", 5.0)
	viper.SetDefault("device.channel", "")
	viper.SetDefault("device.framerate", 30.0)
	viper.SetDefault("device.tracktimecode", false)
	viper.SetDefault("device.autorecord", true)
	viper.SetDefault("device.exportevents", true)

	viper.SetDefault("recording.outputpath", "./recordings")
	viper.SetDefault("recording.format", "mp4")
	viper.SetDefault("recording.mindurationseconds", 10)
	viper.SetDefault("recording.maxdurationseconds", 600)
	viper.SetDefault("recording.historysize", 100)
	viper.SetDefault("recording.retentiondays", 30)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "tablecap")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")

	viper.SetDefault("observability.enabled", false)
	viper.SetDefault("observability.listenaddr", ":9090")
}
