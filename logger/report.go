package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsVenue    int64
	errorsSession  int64
	warnsVenue     int64
	warnsSession   int64
	ordersOpened   int64
	ordersClosed   int64
	bookUpdates    int64
	transfersTotal int64
	retryCount     int64
	channels       sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "session") || strings.Contains(component, "exchange") {
		atomic.AddInt64(&warnsSession, 1)
	} else {
		atomic.AddInt64(&warnsVenue, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "session") || strings.Contains(component, "exchange") {
		atomic.AddInt64(&errorsSession, 1)
	} else {
		atomic.AddInt64(&errorsVenue, 1)
	}
}

func IncrementOrderOpened() {
	atomic.AddInt64(&ordersOpened, 1)
}

func IncrementOrderClosed() {
	atomic.AddInt64(&ordersClosed, 1)
}

func IncrementRetryCount() {
	atomic.AddInt64(&retryCount, 1)
}

func IncrementTransfer() {
	atomic.AddInt64(&transfersTotal, 1)
}

// IncrementBookUpdate counts one applied book event of size bytes received on
// channel.
func IncrementBookUpdate(channel string, size int) {
	atomic.AddInt64(&bookUpdates, 1)
	recordChannel(channel, size)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport begins periodic logging of session and channel statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func snapshotFields() (Fields, map[string]map[string]int64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	fields := Fields{
		"errors_venue":   atomic.LoadInt64(&errorsVenue),
		"errors_session": atomic.LoadInt64(&errorsSession),
		"warns_venue":    atomic.LoadInt64(&warnsVenue),
		"warns_session":  atomic.LoadInt64(&warnsSession),
		"orders_opened":  atomic.LoadInt64(&ordersOpened),
		"orders_closed":  atomic.LoadInt64(&ordersClosed),
		"book_updates":   atomic.LoadInt64(&bookUpdates),
		"transfers":      atomic.LoadInt64(&transfersTotal),
		"retries":        atomic.LoadInt64(&retryCount),
		"goroutines":     runtime.NumGoroutine(),
		"heap_mb":        int64(ms.HeapAlloc) / 1024 / 1024,
		"channels":       channelData,
	}
	return fields, channelData
}

func logReport(ctx context.Context, log *Log) {
	fields, channelData := snapshotFields()

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	count := func(name, key string) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(fields[key].(int64))),
		}
	}

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("TradeCore-HeapMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(fields["heap_mb"].(int64)))},
		{MetricName: aws.String("TradeCore-Goroutines"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["goroutines"].(int)))},
		count("TradeCore-ErrorsVenue", "errors_venue"),
		count("TradeCore-ErrorsSession", "errors_session"),
		count("TradeCore-WarnsVenue", "warns_venue"),
		count("TradeCore-WarnsSession", "warns_session"),
		count("TradeCore-OrdersOpened", "orders_opened"),
		count("TradeCore-OrdersClosed", "orders_closed"),
		count("TradeCore-BookUpdates", "book_updates"),
		count("TradeCore-Transfers", "transfers"),
		count("TradeCore-Retries", "retries"),
	}

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("TradeCore-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("TradeCore-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
