// Command ringlinkd is the client daemon: it owns one client.Client and
// exposes it to ringlinkctl over the localctl control plane.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/op/go-logging"

	"github.com/ringlink/ringlink"
	"github.com/ringlink/ringlink/client"
	"github.com/ringlink/ringlink/localctl"
)

func useSyslog() bool {
	env := os.Getenv("RINGLINK_LOG_SYSLOG")
	if env != "" {
		return env == "true"
	}
	return false
}

var log = ringlink.SetupLogging("ringlinkd", logging.INFO, useSyslog())

// dashboardAddr is the loopback HTTP address ringlinkctl's dashboard
// command opens in a browser. It is separate from localctl's unix
// socket / named pipe control plane, which is not browser-addressable.
const dashboardAddr = "127.0.0.1:17717"

func main() {
	serverAddr := flag.String("server", "127.0.0.1:7070", "relay server control address")
	mediaAddr := flag.String("media", "127.0.0.1:7071", "relay server media (UDP) address")
	flag.Parse()

	defer func() {
		if x := recover(); x != nil {
			log.Error(fmt.Sprintf("run time panic: %v", x))
			log.Error(string(debug.Stack()))
			panic(x)
		}
	}()

	events := localctl.NewEventQueue()
	c := client.New(*serverAddr, ringlink.DefaultCrypto{}, events)

	if err := c.Connect(); err != nil {
		log.Fatal(err)
	}
	if err := c.BindMedia(); err != nil {
		log.Fatal(err)
	}
	relayUDPAddr, err := net.ResolveUDPAddr("udp", *mediaAddr)
	if err != nil {
		log.Fatal(err)
	}
	c.SetRelayAddr(relayUDPAddr)

	ipcListener, err := localctl.Listen()
	if err != nil {
		log.Fatal(err)
	}
	defer ipcListener.Close()

	ctlServer := localctl.NewServer(c, events)
	go func() {
		if err := ctlServer.Serve(ipcListener); err != nil {
			log.Error("localctl server returned: ", err)
		}
	}()

	go serveDashboard(c)

	log.Notice("ringlinkd launched, connected to ", *serverAddr)

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, os.Kill, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM)
	sig, ok := <-stopSignal
	events.Close()
	if ok {
		log.Notice("stopping with signal ", sig)
	}
}

// serveDashboard renders a minimal human-readable status page at
// dashboardAddr for `ringlinkctl dashboard` to open.
func serveDashboard(c *client.Client) {
	ln, err := net.Listen("tcp", dashboardAddr)
	if err != nil {
		log.Warning("dashboard disabled: ", err)
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		snap := c.Snapshot()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><body><h1>ringlinkd</h1><p>nickname: %s</p>", snap.Nickname)
		if snap.HasActive {
			fmt.Fprintf(w, "<p>in call with %s</p>", snap.ActivePeer)
		} else if snap.HasOutgoing {
			fmt.Fprintf(w, "<p>calling %s...</p>", snap.OutgoingTarget)
		} else {
			fmt.Fprint(w, "<p>no active call</p>")
		}
		fmt.Fprint(w, "</body></html>")
	})
	if err := http.Serve(ln, mux); err != nil {
		log.Warning("dashboard server returned: ", err)
	}
}
