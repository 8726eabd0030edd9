package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skysoft-atm/replayshare"
	"github.com/skysoft-atm/replayshare/stream"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// tickSource emits the current time at a fixed interval. It stands in for an
// expensive upstream connection that should not be duplicated per consumer.
type tickSource struct {
	interval time.Duration
}

func (t *tickSource) Subscribe(observer stream.Observer[time.Time]) {
	stop := make(chan struct{})
	observer.OnSubscribe(stream.CancelFunc(func() { close(stop) }))
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				observer.OnNext(now)
			case <-stop:
				return
			}
		}
	}()
}

func main() {
	pflag.String("log.level", "debug", "Log level")
	pflag.Int("http.port", 8080, "HTTP port for the metrics endpoint")
	pflag.Int("tick.interval.ms", 1000, "Upstream tick interval")
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)

	replayshare.InitLogs()
	log := replayshare.Log

	interval := time.Duration(viper.GetInt("tick.interval.ms")) * time.Millisecond
	source, err := replayshare.ReplayingShare[time.Time](&tickSource{interval: interval}, replayshare.WithName("demo"))
	if err != nil {
		log.Fatal("could not create shared source", zap.Error(err))
	}

	consumer := func(name string) stream.Observer[time.Time] {
		return stream.CreateObserver[time.Time](
			func(stream.Cancellation) {},
			func(v time.Time) {
				log.Info("tick", zap.String("consumer", name), zap.Time("value", v))
			},
			func(err error) {
				log.Error("stream failed", zap.String("consumer", name), zap.Error(err))
			},
			func() {
				log.Info("stream completed", zap.String("consumer", name))
			},
		)
	}

	source.Subscribe(consumer("early"))

	// the late consumer immediately receives the last tick from the cache
	go func() {
		time.Sleep(3 * interval)
		source.Subscribe(consumer("late"))
	}()

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	addr := fmt.Sprintf(":%d", viper.GetInt("http.port"))
	log.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}
