// Command ringlink-server runs the relay: one TCP control listener, one
// UDP media socket, shared by every authorized user.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/op/go-logging"

	"github.com/ringlink/ringlink"
	"github.com/ringlink/ringlink/server"
	"github.com/ringlink/ringlink/server/cdr"
)

func useSyslog() bool {
	env := os.Getenv("RINGLINK_LOG_SYSLOG")
	if env != "" {
		return env == "true"
	}
	return true
}

var log = ringlink.SetupLogging("ringlink-server", logging.INFO, useSyslog())

func main() {
	controlAddr := flag.String("control", ":7070", "TCP control listen address")
	mediaAddr := flag.String("media", ":7071", "UDP media listen address")
	cdrBucket := flag.String("cdr-bucket", "", "S3 bucket for call detail record export (disabled if empty)")
	cdrPrefix := flag.String("cdr-prefix", "ringlink-cdr/", "S3 key prefix for call detail records")
	flag.Parse()

	defer func() {
		if x := recover(); x != nil {
			log.Error(fmt.Sprintf("run time panic: %v", x))
			log.Error(string(debug.Stack()))
			panic(x)
		}
	}()

	var recorder server.CallRecorder
	if *cdrBucket != "" {
		exporter, err := cdr.NewExporter(cdr.Config{Bucket: *cdrBucket, Prefix: *cdrPrefix})
		if err != nil {
			log.Fatal(err)
		}
		defer exporter.Close()
		recorder = exporter
	}

	srv, err := server.New(server.Config{
		ControlAddr: *controlAddr,
		MediaAddr:   *mediaAddr,
		Recorder:    recorder,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer srv.Close()

	go func() {
		if err := srv.Serve(); err != nil {
			log.Error("control server returned: ", err)
		}
	}()

	log.Notice("ringlink-server listening on ", *controlAddr, " (control) and ", *mediaAddr, " (media)")

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, os.Kill, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM)
	sig, ok := <-stopSignal
	if ok {
		log.Notice("stopping with signal ", sig)
	}
}
