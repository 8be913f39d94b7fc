package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moby/vpnkitrc/go/pkg/controller"
	"github.com/moby/vpnkitrc/go/pkg/vpnkitrc"
	"github.com/moby/vpnkitrc/go/pkg/vpnkitrc/config"
	vlog "github.com/moby/vpnkitrc/go/pkg/vpnkitrc/log"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

const (
	resyncPeriod    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	cleanupTimeout  = 15 * time.Second
)

// Expose LoadBalancer and NodePort services on the host through vpnkit
func main() {
	v := config.New()
	flags := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flags.String("path", "", "unix socket to vpnkit port forward API (default $VPNKITRC_SOCKET)")
	flags.String("log-level", "info", "log output level (error, warn, info, debug)")
	flags.Parse(os.Args[1:])
	if err := v.BindPFlag(config.SocketKey, flags.Lookup("path")); err != nil {
		log.Fatal(err)
	}
	if err := v.BindPFlag(config.LogLevelKey, flags.Lookup("log-level")); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(cfg.LogLevel)
	vlog.SetLogger(log.StandardLogger())

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	if err := run(cfg.Socket, signalChan); err != nil {
		log.Fatal(err)
	}
}

func run(path string, shutdown <-chan os.Signal) error {
	log.Printf("Starting kube-vpnkitrc-forwarder on %s", path)
	rootCtx := context.Background()

	clusterConfig, err := rest.InClusterConfig()
	if err != nil {
		return errors.Wrap(err, "loading in-cluster config")
	}
	clientset, err := kubernetes.NewForConfig(clusterConfig)
	if err != nil {
		return errors.Wrap(err, "connecting to the API server")
	}
	client, err := vpnkitrc.NewClient(path)
	if err != nil {
		return err
	}

	informer := informers.NewSharedInformerFactory(clientset, resyncPeriod).Core().V1().Services().Informer()
	ctrl := controller.New(rootCtx, client, clientset.CoreV1())
	if _, err := informer.AddEventHandler(ctrl); err != nil {
		return errors.Wrap(err, "registering the service handler")
	}

	stop := make(chan struct{})
	informerDone := make(chan struct{})
	go func() {
		defer close(informerDone)
		informer.Run(stop)
	}()

	<-shutdown
	log.Println("Shutdown signal received")
	close(stop)
	select {
	case <-time.After(shutdownTimeout):
		log.Warn("Controller shutdown timed out")
	case <-informerDone:
	}

	// the informer may not have stopped cleanly but the ports can still be
	// unexposed
	log.Println("Cleaning up controller")
	cleanupCtx, cancel := context.WithTimeout(rootCtx, cleanupTimeout)
	defer cancel()
	ctrl.Dispose(cleanupCtx)
	return nil
}
