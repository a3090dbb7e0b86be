// Command sfcd brings up the control surface and serves the diagnostic HTTP
// API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/halcyonaudio/sfc/sfcbus"
	"github.com/halcyonaudio/sfc/sfcbus/busopen"
	"github.com/halcyonaudio/sfc/sfcd/api"
	"github.com/halcyonaudio/sfc/surface"

	"github.com/BertoldVdb/go-misc/httplog"
)

func main() {
	configPath := flag.String("config", "/etc/sfc/surface.yaml", "Surface configuration file")
	address := flag.String("addr", ":8077", "Address to listen on")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")

	flag.Parse()

	cfg, err := surface.Load(*configPath)
	if err != nil {
		log.Fatalln("Failed to load configuration:", err)
	}

	logOut := sfcbus.LogFunc(log.Printf)
	if !*verbose {
		logOut = nil
	}

	txer, err := busopen.Open(cfg.Bus)
	if err != nil {
		log.Fatalln("Failed to open bus:", err)
	}

	sfc, err := surface.New(sfcbus.New(txer, logOut), cfg, log.Printf)
	if err != nil {
		log.Fatalln("Failed to create surface:", err)
	}

	log.Println("Bringing up control surface on", cfg.Bus)
	if err := sfc.Init(); err != nil {
		log.Fatalln("Surface bring-up failed:", err)
	}
	defer sfc.Deinit()

	summary := sfc.Summarize()
	log.Printf("Panel: %s", summary.PanelFirmware)
	log.Printf("Motors: %d found, %d active", summary.MotorsFound, summary.MotorsActive)

	closeChan := make(chan os.Signal, 1)
	signal.Notify(closeChan, os.Interrupt)

	logger := httplog.HTTPLog{
		LogOut:     log.Printf,
		ServerName: "SFCDiag",
	}

	server := &http.Server{
		Addr:    *address,
		Handler: logger.GetHandler(http.HandlerFunc(api.New(sfc).ServeHTTP)),

		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("Starting server on: http://%s", *address)
		log.Println("Server stopped:", server.ListenAndServe())

		select {
		case closeChan <- nil:
		default:
		}
	}()

	<-closeChan
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	server.Shutdown(ctx)
	cancel()
}
