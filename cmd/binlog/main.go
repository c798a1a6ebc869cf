// Command binlog prints or tails the binlog of a MySQL or MariaDB server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cdcflow/binlog"
)

func main() {
	defer glog.Flush()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		glog.Flush()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "binlog",
		Short:        "Stream binlog events of a MySQL or MariaDB server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "path to YAML config file")
	pf.AddGoFlagSet(flag.CommandLine) // glog flags
	root.AddCommand(newViewCommand(), newTailCommand(), newFileCommand())
	root.InitDefaultCompletionCmd()
	return root
}

// connectionFlags adds flags that build binlog.Options.
func connectionFlags(fs *pflag.FlagSet) {
	fs.String("address", "localhost:3306", "server host:port")
	fs.String("network", "tcp", "tcp or unix")
	fs.String("user", "root", "replication user")
	fs.String("password", "", "password of replication user")
	fs.String("ssl-mode", "preferred", "disabled, preferred or required")
	fs.Uint32("server-id", 65535, "replica server id, unique among replicas")
	fs.Duration("heartbeat", 0, "heartbeat period, 0 uses the default, negative disables")
	fs.Bool("non-blocking", false, "stop at the end of binlog instead of waiting for events")
	fs.String("start", "end", "start, end, FILE:POS, mysql:GTIDSET or mariadb:GTIDLIST")
	fs.String("flavor", "", "mysql or mariadb, detected when empty")
}

func initConfig(cmd *cobra.Command) error {
	viper.Reset()
	viper.SetEnvPrefix("BINLOG")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return nil
}

func options() (binlog.Options, error) {
	sslMode, err := binlog.ParseSSLMode(viper.GetString("ssl-mode"))
	if err != nil {
		return binlog.Options{}, err
	}
	start, err := binlog.ParseCursor(viper.GetString("start"))
	if err != nil {
		return binlog.Options{}, err
	}
	return binlog.Options{
		Network:         viper.GetString("network"),
		Address:         viper.GetString("address"),
		Username:        viper.GetString("user"),
		Password:        viper.GetString("password"),
		SSLMode:         sslMode,
		ServerID:        viper.GetUint32("server-id"),
		HeartbeatPeriod: viper.GetDuration("heartbeat"),
		NonBlocking:     viper.GetBool("non-blocking"),
		Start:           start,
		Flavor:          viper.GetString("flavor"),
	}, nil
}
