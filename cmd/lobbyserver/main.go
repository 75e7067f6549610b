// Command lobbyserver runs the lobby/chat/battle-hosting server.
package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"runtime"
	"strconv"

	docopt "github.com/docopt/docopt-go"

	"github.com/racklobby/lobbyserver/email"
	"github.com/racklobby/lobbyserver/geoip"
	"github.com/racklobby/lobbyserver/historydb"
	"github.com/racklobby/lobbyserver/lobby"
	"github.com/racklobby/lobbyserver/logger"
	"github.com/racklobby/lobbyserver/natserver"
	"github.com/racklobby/lobbyserver/store"
	"github.com/racklobby/lobbyserver/token"
)

const usage = `lobbyserver

Usage:
  lobbyserver [-p <port>] [-n <natport>] [-o <output>] [-u] [-v <version>] [-m <maxthreads>] [-s <sqlurl>] [-c] [-a <agreement>] [--proxies <proxies>] [-g <file>]
  lobbyserver -h | --help

Options:
  -p --port <port>                  TCP port to listen on.
  -n --natport <natport>            UDP port for the NAT traversal helper.
  -o --output <output>              Log file path.
  -u --sighup                       Reload configuration on SIGHUP.
  -v --latestspringversion <version> Minimum accepted client version.
  -m --maxthreads <maxthreads>      Maximum OS threads (GOMAXPROCS).
  -s --sqlurl <sqlurl>              MySQL DSN for the optional history backend.
  -c --no-censor                    Set no_censor in the config; chat text is still sanitized.
  -a --agreement <agreement>        Path to the community agreement file.
  --proxies <proxies>               Path to the trusted-proxies file.
  -g --loadargs <file>              Load a YAML config file.
  -h --help                         Show this help.
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "lobbyserver 1.0")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flags := parseFlags(opts)

	configFile, _ := opts.String("--loadargs")
	config, err := lobby.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	config.ApplyFlags(flags)
	if config.Server.MaxThreads > 0 {
		runtime.GOMAXPROCS(config.Server.MaxThreads)
	}

	log := logger.NewManager()

	st, err := store.Open(config.Datastore.Path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "datastore error:", err)
		os.Exit(1)
	}

	var hdb *historydb.DB
	if config.Datastore.SQLURL != "" {
		hdb, err = historydb.Open(historydb.Config{Enabled: true, DSN: config.Datastore.SQLURL})
		if err != nil {
			fmt.Fprintln(os.Stderr, "history db error:", err)
			os.Exit(1)
		}
	}

	geo := geoip.NewStatic()
	if config.GeoIP.DatabasePath != "" {
		geo.Reload(config.GeoIP.DatabasePath)
	}

	var mailer *email.Sender
	if config.Email.SMTPAddr != "" {
		var dkimKey []byte
		if config.Email.DKIMPrivKeyFile != "" {
			dkimKey, _ = ioutil.ReadFile(config.Email.DKIMPrivKeyFile)
		}
		mailer = email.NewSender(email.Config{
			SMTPAddr:       config.Email.SMTPAddr,
			From:           config.Email.From,
			DKIMDomain:     config.Email.DKIMDomain,
			DKIMSelector:   config.Email.DKIMSelector,
			DKIMPrivKeyPEM: dkimKey,
		})
	}

	tokens := token.NewSigner([]byte(config.TokenSecret))

	var nat *natserver.Server
	if config.Server.NATPort != 0 {
		nat, err = natserver.Listen(fmt.Sprintf(":%d", config.Server.NATPort))
		if err != nil {
			fmt.Fprintln(os.Stderr, "natserver error:", err)
			os.Exit(1)
		}
		go nat.Serve()
	}

	srv := lobby.NewServer(st, hdb, geo, mailer, tokens, nat, log)
	if err := srv.ApplyConfig(config); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	if err := srv.Listen(); err != nil {
		fmt.Fprintln(os.Stderr, "bind error:", err)
		os.Exit(1)
	}
	if config.Server.WSListen != "" {
		if err := srv.ListenWS(config.Server.WSListen); err != nil {
			fmt.Fprintln(os.Stderr, "websocket bind error:", err)
			os.Exit(1)
		}
	}

	srv.Run()
}

func parseFlags(opts docopt.Opts) lobby.CLIFlags {
	var flags lobby.CLIFlags
	if v, _ := opts.String("--port"); v != "" {
		flags.Port, _ = strconv.Atoi(v)
	}
	if v, _ := opts.String("--natport"); v != "" {
		flags.NATPort, _ = strconv.Atoi(v)
	}
	flags.Output, _ = opts.String("--output")
	flags.Sighup, _ = opts.Bool("--sighup")
	flags.LatestSpringVersion, _ = opts.String("--latestspringversion")
	if v, _ := opts.String("--maxthreads"); v != "" {
		flags.MaxThreads, _ = strconv.Atoi(v)
	}
	flags.SQLURL, _ = opts.String("--sqlurl")
	flags.NoCensor, _ = opts.Bool("--no-censor")
	flags.Agreement, _ = opts.String("--agreement")
	flags.Proxies, _ = opts.String("--proxies")
	flags.LoadArgs, _ = opts.String("--loadargs")
	return flags
}
