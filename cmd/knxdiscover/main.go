package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"

	"github.com/knxtun/knxip/discover"
	"github.com/knxtun/knxip/knxnet"
	"github.com/knxtun/knxip/metrics"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	myApp := cli.NewApp()
	myApp.Name = "knxdiscover"
	myApp.Usage = "discover KNXnet/IP servers on the LAN"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "control",
			Value: "",
			Usage: "if set, skip Search and send a one-shot Description.req to this control endpoint (host:port)",
		},
		cli.IntFlag{
			Name:  "timeout",
			Value: 3,
			Usage: "seconds to collect Search.res replies",
		},
		cli.BoolFlag{
			Name:  "programmingmode",
			Usage: "restrict Search.req to devices currently in programming mode",
		},
		cli.StringFlag{
			Name:  "mac",
			Value: "",
			Usage: "restrict Search.req to one device, by MAC address (aa:bb:cc:dd:ee:ff)",
		},
		cli.BoolFlag{
			Name:  "describe",
			Usage: "after a Search, send a Description.req to each discovered control endpoint",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.StringFlag{
			Name:  "metricsaddr",
			Value: "",
			Usage: "if set, serve Prometheus metrics on this address (e.g. :9477)",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.Control = c.String("control")
		config.Timeout = c.Int("timeout")
		config.Mode = c.Bool("programmingmode")
		config.MAC = c.String("mac")
		config.Describe = c.Bool("describe")
		config.Log = c.String("log")
		config.MetricsAddr = c.String("metricsaddr")

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
				log.Println("knxdiscover: serving metrics on", config.MetricsAddr)
				log.Println(http.ListenAndServe(config.MetricsAddr, nil))
			}()
		}

		if config.Control != "" {
			return runDescription(config)
		}
		return runSearch(config)
	}
	myApp.Run(os.Args)
}

func runSearch(config Config) error {
	var srps []knxnet.SRP
	if config.Mode {
		srps = append(srps, knxnet.SRP{Mandatory: false, Type: knxnet.SRPSelectByProgrammingMode})
	}
	if config.MAC != "" {
		mac, err := parseMAC(config.MAC)
		if err != nil {
			return err
		}
		srps = append(srps, knxnet.SRP{Mandatory: true, Type: knxnet.SRPSelectByMACAddress, Data: mac})
	}

	discover.SearchTimeout = time.Duration(config.Timeout) * time.Second

	results, err := discover.Search(srps...)
	if err != nil {
		return errors.Wrap(err, "search")
	}
	if len(results) == 0 {
		fmt.Println("no KNXnet/IP servers found")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%s on %s (local %s): control=%s\n", dibSummary(r.Response), r.NIC.Name, r.Local, r.Response.Control.UDPAddr())
		if config.Describe {
			desc, err := discover.Description(r.Response.Control.UDPAddr())
			if err != nil {
				log.Printf("knxdiscover: description of %s failed: %v", r.Response.Control.UDPAddr(), err)
				continue
			}
			fmt.Printf("  description: %s\n", dibSummary(knxnet.SearchResponse{DIBs: desc.DIBs}))
		}
	}
	return nil
}

func runDescription(config Config) error {
	addr, err := net.ResolveUDPAddr("udp4", config.Control)
	if err != nil {
		return errors.Wrap(err, "resolving control endpoint")
	}
	desc, err := discover.Description(addr)
	if err != nil {
		return errors.Wrap(err, "description")
	}
	fmt.Println(dibSummary(knxnet.SearchResponse{DIBs: desc.DIBs}))
	return nil
}

func dibSummary(res knxnet.SearchResponse) string {
	var parts []string
	for _, d := range res.DIBs {
		parts = append(parts, fmt.Sprintf("dib[0x%02x]=%s", d.Type, hex.EncodeToString(d.Data)))
	}
	return strings.Join(parts, " ")
}

func parseMAC(s string) ([]byte, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return nil, errors.Wrap(err, "parsing mac address")
	}
	return hw, nil
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
