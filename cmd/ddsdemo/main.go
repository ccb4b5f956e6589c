// Command ddsdemo boots the simulated kernel, the EDF Scheduler Core, three
// periodic Generators replicating a representative three-task workload,
// and the observation surface (Prometheus + websocket dashboard).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itskum47/FluxForge/internal/ddsclient"
	"github.com/itskum47/FluxForge/internal/edf"
	"github.com/itskum47/FluxForge/internal/middleware"
	"github.com/itskum47/FluxForge/internal/monitor"
	"github.com/itskum47/FluxForge/internal/observability"
	"github.com/itskum47/FluxForge/internal/simkernel"
	"github.com/itskum47/FluxForge/internal/tasks"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	k := simkernel.New(simkernel.DefaultConfig())

	core, err := edf.NewCore(k, edf.DefaultConfig())
	if err != nil {
		log.Fatalf("ddsdemo: failed to start scheduler core: %v", err)
	}
	eventLog := monitor.NewLogEventPublisher()
	core.OnEvent(monitor.Subscribe(eventLog, func(ev edf.Event) {
		observability.SchedulerDecisions.WithLabelValues(string(ev.Kind)).Inc()
		if ev.Kind == edf.EventOverdue {
			observability.DeadlineMisses.Inc()
		}
	}))
	go core.Run(ctx)

	client := ddsclient.New(k, core.Inbox(), ddsclient.DefaultConfig())

	// Three periodic generators on a shared 2000ms period, with staggered
	// relative deadlines, execution budgets, and startup offsets so their
	// admissions don't all land in lockstep.
	generators := []*tasks.Generator{
		tasks.NewGenerator(k, client, edf.TaskSpec{
			Kind:             edf.Periodic,
			ExecutionBudget:  500 * time.Millisecond,
			RelativeDeadline: 1000 * time.Millisecond,
			Period:           2000 * time.Millisecond,
		}, 0, tasks.DefaultConfig()),
		tasks.NewGenerator(k, client, edf.TaskSpec{
			Kind:             edf.Periodic,
			ExecutionBudget:  250 * time.Millisecond,
			RelativeDeadline: 600 * time.Millisecond,
			Period:           2000 * time.Millisecond,
		}, 250*time.Millisecond, tasks.DefaultConfig()),
		tasks.NewGenerator(k, client, edf.TaskSpec{
			Kind:             edf.Periodic,
			ExecutionBudget:  100 * time.Millisecond,
			RelativeDeadline: 200 * time.Millisecond,
			Period:           2000 * time.Millisecond,
		}, 4100*time.Millisecond, tasks.DefaultConfig()),
	}
	for i, g := range generators {
		g.OnAdmitError = func(err error) {
			log.Printf("ddsdemo: generator %d admission failed: %v", i+1, err)
		}
		go func(g *tasks.Generator) {
			if err := g.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("ddsdemo: generator stopped: %v", err)
			}
		}(g)
	}

	hub := monitor.NewHub()
	go hub.Run(ctx, time.Second)

	sampler := monitor.NewSampler(k, client, hub).WithOverdueDropped(core.OverdueDropped)
	go func() {
		if err := sampler.Run(ctx, 200*time.Millisecond); err != nil && ctx.Err() == nil {
			log.Printf("ddsdemo: sampler stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ddsdemo: websocket upgrade failed: %v", err)
			return
		}
		hub.Register(conn)
		defer hub.Unregister(conn)

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	addr := os.Getenv("DDS_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: middleware.CORS(mux)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("ddsdemo: listening on %s (tick period %v)", addr, simkernel.DefaultConfig().TickPeriod)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("ddsdemo: server error: %v", err)
	}

	log.Println("ddsdemo: shutdown complete")
}
