package main

import (
	"encoding/hex"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"

	"github.com/knxtun/knxip/knxnet"
	"github.com/knxtun/knxip/metrics"
	"github.com/knxtun/knxip/routing"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	myApp := cli.NewApp()
	myApp.Name = "knxrouted"
	myApp.Usage = "join KNXnet/IP multicast routing and log indications"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "interface",
			Value: "",
			Usage: "network interface to join the multicast group on (required)",
		},
		cli.StringFlag{
			Name:  "group",
			Value: "224.0.23.12:3671",
			Usage: "multicast group:port to join",
		},
		cli.BoolFlag{
			Name:  "secure",
			Usage: "enable secure routing (backbonekey and serial required)",
		},
		cli.StringFlag{
			Name:  "backbonekey",
			Value: "",
			Usage: "32 hex chars: the 16-byte backbone key for secure routing",
		},
		cli.StringFlag{
			Name:  "serial",
			Value: "",
			Usage: "12 hex chars: this device's 6-byte serial number, for secure routing",
		},
		cli.IntFlag{
			Name:  "latencyms",
			Value: 1000,
			Usage: "secure routing latency tolerance, in milliseconds",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.StringFlag{
			Name:  "metricsaddr",
			Value: "",
			Usage: "if set, serve Prometheus metrics on this address (e.g. :9478)",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress per-indication log lines",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.Interface = c.String("interface")
		config.Group = c.String("group")
		config.Secure = c.Bool("secure")
		config.BackboneKey = c.String("backbonekey")
		config.Serial = c.String("serial")
		config.Latency = c.Int("latencyms")
		config.Log = c.String("log")
		config.MetricsAddr = c.String("metricsaddr")
		config.Quiet = c.Bool("quiet")

		if c.String("c") != "" {
			checkError(parseJSONConfig(&config, c.String("c")))
		}

		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		if config.MetricsAddr != "" {
			reg := prometheus.NewRegistry()
			metrics.Default.MustRegister(reg)
			http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			go func() {
				log.Println("knxrouted: serving metrics on", config.MetricsAddr)
				log.Println(http.ListenAndServe(config.MetricsAddr, nil))
			}()
		}

		return run(config)
	}
	myApp.Run(os.Args)
}

func run(config Config) error {
	nif, err := net.InterfaceByName(config.Interface)
	if err != nil {
		return errors.Wrap(err, "resolving interface")
	}
	group, err := net.ResolveUDPAddr("udp4", config.Group)
	if err != nil {
		return errors.Wrap(err, "resolving group address")
	}

	inst, err := routing.Join(nif, group)
	if err != nil {
		return errors.Wrap(err, "joining multicast group")
	}
	defer inst.Close()

	if config.Secure {
		key, serial, err := parseSecureParams(config)
		if err != nil {
			return err
		}
		inst.EnableSecure(key, serial, time.Duration(config.Latency)*time.Millisecond)
	}

	inst.AddListener(&logListener{quiet: config.Quiet})

	log.Printf("knxrouted: joined %s on %s (secure=%v)", group, config.Interface, config.Secure)
	go inst.Run()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("knxrouted: shutting down")
	return nil
}

func parseSecureParams(config Config) (key [16]byte, serial [6]byte, err error) {
	keyBytes, err := hex.DecodeString(config.BackboneKey)
	if err != nil || len(keyBytes) != 16 {
		return key, serial, errors.New("backbonekey must be 32 hex characters")
	}
	copy(key[:], keyBytes)

	serialBytes, err := hex.DecodeString(config.Serial)
	if err != nil || len(serialBytes) != 6 {
		return key, serial, errors.New("serial must be 12 hex characters")
	}
	copy(serial[:], serialBytes)
	return key, serial, nil
}

type logListener struct {
	quiet bool
}

func (l *logListener) OnIndication(cemiFrame []byte) {
	if !l.quiet {
		log.Printf("knxrouted: indication: %s", hex.EncodeToString(cemiFrame))
	}
}

func (l *logListener) OnLost(msg knxnet.RoutingLostMessage, from *net.UDPAddr) {
	log.Printf("knxrouted: routing lost from %s: device_state=0x%02x lost=%d", from, msg.DeviceState, msg.LostCount)
}

func (l *logListener) OnBusy(msg knxnet.RoutingBusy, from *net.UDPAddr) {
	log.Printf("knxrouted: routing busy from %s: device_state=0x%02x wait=%dms", from, msg.DeviceState, msg.WaitTime)
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
