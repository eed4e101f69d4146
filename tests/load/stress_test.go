package main

/*
import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
	"parley/internal/infrastructure/monitoring"
	"parley/internal/infrastructure/signal"
	"parley/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

type stubConn struct {
	id     domain.ConnID
	userID domain.UserID
}

func (c *stubConn) ID() domain.ConnID     { return c.id }
func (c *stubConn) UserID() domain.UserID { return c.userID }
func (c *stubConn) Send(event string, payload interface{}) error {
	return nil
}

type StressTest struct {
	registry   *signal.Registry
	dispatcher ports.Dispatcher
}

func NewStressTest() *StressTest {
	log := logger.NewNop()
	collector := monitoring.NewCollectorWith(prometheus.NewRegistry())
	registry := signal.NewRegistry()
	dispatcher := signal.NewDispatcher(registry, collector, log)

	return &StressTest{
		registry:   registry,
		dispatcher: dispatcher,
	}
}

func (st *StressTest) RunConcurrentConnectDisconnect(numUsers int, duration time.Duration) {
	var wg sync.WaitGroup
	stop := make(chan bool)

	for i := 0; i < numUsers; i++ {
		wg.Add(1)
		go func(userNum int) {
			defer wg.Done()

			userID := domain.UserID(fmt.Sprintf("stress-user-%d", userNum))

			ticker := time.NewTicker(time.Duration(rand.Intn(5000)+1000) * time.Millisecond)
			defer ticker.Stop()

			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					conn := &stubConn{
						id:     domain.ConnID(fmt.Sprintf("conn-%d-%d", userNum, time.Now().UnixNano())),
						userID: userID,
					}
					st.registry.Register(conn)

					time.Sleep(time.Duration(rand.Intn(3000)) * time.Millisecond)

					st.registry.Unregister(conn)
				}
			}
		}(i)
	}

	log.Printf("Running stress test for %v with %d users", duration, numUsers)
	time.Sleep(duration)

	close(stop)
	wg.Wait()

	log.Printf("Stress test completed")
}

func (st *StressTest) MeasureDeliveryThroughput(numOperations int) {
	ctx := context.Background()

	conns := make([]*stubConn, 100)
	for i := range conns {
		conns[i] = &stubConn{
			id:     domain.ConnID(fmt.Sprintf("perf-conn-%d", i)),
			userID: domain.UserID(fmt.Sprintf("perf-user-%d", i)),
		}
		st.registry.Register(conns[i])
	}

	start := time.Now()

	for i := 0; i < numOperations; i++ {
		target := conns[i%len(conns)].userID
		if err := st.dispatcher.Deliver(ctx, target, "message:new", map[string]string{"content": "x"}); err != nil {
			log.Printf("Operation %d failed: %v", i, err)
		}
	}

	duration := time.Since(start)
	opsPerSecond := float64(numOperations) / duration.Seconds()

	log.Printf("Performance test completed:")
	log.Printf("  Operations: %d", numOperations)
	log.Printf("  Duration: %v", duration)
	log.Printf("  Ops/sec: %.2f", opsPerSecond)
}

func main() {
	stressTest := NewStressTest()

	fmt.Println("=== Parley Stress Test ===")

	fmt.Println("\n1. Running concurrent connect/disconnect test...")
	stressTest.RunConcurrentConnectDisconnect(100, 30*time.Second)

	fmt.Println("\n2. Running delivery throughput test...")
	stressTest.MeasureDeliveryThroughput(10000)

	fmt.Println("\n=== All tests completed ===")
}
*/
