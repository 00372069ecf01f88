// Command ddsiparticipantd is a demo participant: it binds a UDP transport,
// joins the SPDP multicast discovery group, and logs every sample the
// receiver delivers. It exists to exercise internal/recv end to end, not as
// a production participant (no local writers, no actual SPDP announcement).
//
// Grounded on the teacher's core/main.go entrypoint shape (load config,
// construct the server, install a signal handler, run Start in a goroutine,
// Stop on shutdown) and on m-lab-tcp-info/main.go's flag+promhttp wiring for
// the metrics endpoint.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/defrag"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/guid"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/locator"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/recv"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/rmsg"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/seqnum"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/transport"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/xmsg"
	"github.com/eclipse-cyclonedds/ddsi-core-go/pkg/logger"
)

const (
	maxMessageSize  = 65507
	poolBufSize     = 1 << 20
	maxSamplesAlive = 1024
	dqueueDepth     = 256
)

func main() {
	var (
		unicastAddr   = flag.String("unicast", "udp4://0.0.0.0:7400", "unicast locator to listen on")
		multicastAddr = flag.String("spdp-multicast", "udp4://239.255.0.1:7400", "SPDP discovery multicast group to join")
		metricsAddr   = flag.String("metrics", ":9091", "address to serve /metrics on")
		logLevel      = flag.String("log-level", "info", "debug|info|warn|error")
	)
	flag.Parse()

	switch *logLevel {
	case "debug":
		logger.SetLevel(logger.LevelDebug)
	case "warn":
		logger.SetLevel(logger.LevelWarn)
	case "error":
		logger.SetLevel(logger.LevelError)
	default:
		logger.SetLevel(logger.LevelInfo)
	}
	log := logger.For("ddsiparticipantd")

	self := randomPrefix()
	log.WithField("guidPrefix", fmt.Sprintf("%x", self)).Info("participant identity generated")

	pool := rmsg.NewPool("ddsiparticipantd", poolBufSize, maxMessageSize)
	ws := &loggingWriterSide{log: logger.For("writerside")}

	onSample := func(writerGUID guid.GUID, seq seqnum.SeqNum, info defrag.SampleInfo, payload []byte) {
		log.WithFields(map[string]interface{}{
			"writer": writerGUID.String(),
			"seq":    int64(seq),
			"bytes":  len(payload),
		}).Info("sample delivered")
	}

	r := recv.New(self, pool, ws, onSample)
	discovery := r.NewBestEffortProxyWriter(guid.Unknown, maxSamplesAlive, dqueueDepth)
	discovery.SynchronousDelivery = true
	r.SetDiscoveryPath(discovery)

	tr := transport.New("ddsiparticipantd")
	unicastLoc, err := locator.FromString(*unicastAddr)
	if err != nil {
		log.Fatal("bad -unicast locator: ", err)
	}
	if err := tr.Listen(unicastLoc); err != nil {
		log.Fatal("listen: ", err)
	}
	if bound, ok := tr.PrimaryLocator(); ok {
		log.WithField("locator", bound.String()).Info("listening")
	}

	multicastLoc, err := locator.FromString(*multicastAddr)
	if err != nil {
		log.Fatal("bad -spdp-multicast locator: ", err)
	}
	if err := tr.JoinMulticast(multicastLoc, locator.Locator{}); err != nil {
		log.WithField("err", err).Warn("could not join SPDP multicast group, unicast discovery only")
	} else {
		log.WithField("group", multicastLoc.String()).Info("joined SPDP multicast group")
	}

	tr.Start(func(data []byte, src locator.Locator) {
		if err := r.ProcessDatagram(data, src); err != nil {
			log.WithField("src", src.String()).WithField("err", err).Debug("datagram rejected")
		}
	})

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.WithField("addr", *metricsAddr).Info("serving metrics")
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.WithField("err", err).Error("metrics server stopped")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.WithField("signal", sig.String()).Warn("shutting down")
	tr.Stop()
}

// randomPrefix generates a locally-unique participant guid prefix. Not
// cryptographically strong and not collision-checked against the network -
// a real implementation would derive this from host identity plus a
// participant index (spec.md's Non-goals exclude discovery-state
// persistence).
func randomPrefix() guid.Prefix {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var p guid.Prefix
	rng.Read(p[:])
	return p
}

// loggingWriterSide is a near-no-op WriterSide: this demo never owns a
// local reliable writer with an actual sample cache, so most calls just
// log what a real one would have done. It does track per-writer pending-
// heartbeat state via xmsg.Writer, since that bookkeeping belongs to the
// writer identity regardless of whether a cache backs it.
type loggingWriterSide struct {
	log *logger.Entry

	mu      sync.Mutex
	writers map[guid.GUID]*xmsg.Writer
}

func (w *loggingWriterSide) writerFor(writerGUID guid.GUID) *xmsg.Writer {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writers == nil {
		w.writers = make(map[guid.GUID]*xmsg.Writer)
	}
	wr, ok := w.writers[writerGUID]
	if !ok {
		wr = xmsg.NewWriter()
		w.writers[writerGUID] = wr
	}
	return wr
}

func (w *loggingWriterSide) SampleInCache(writerGUID guid.GUID, seq seqnum.SeqNum) bool {
	return false
}

func (w *loggingWriterSide) RetransmitData(writerGUID, readerGUID guid.GUID, seq seqnum.SeqNum) {
	w.log.Debug("RetransmitData requested but this participant owns no writers")
}

func (w *loggingWriterSide) RetransmitFragment(writerGUID, readerGUID guid.GUID, seq seqnum.SeqNum, frag seqnum.FragNum) {
	w.log.Debug("RetransmitFragment requested but this participant owns no writers")
}

func (w *loggingWriterSide) SendGap(writerGUID, readerGUID guid.GUID, from, to seqnum.SeqNum) {
	w.log.Debug("SendGap requested but this participant owns no writers")
}

func (w *loggingWriterSide) RemoveAcked(writerGUID, readerGUID guid.GUID, through seqnum.SeqNum) {}

func (w *loggingWriterSide) ScheduleHeartbeat(writerGUID guid.GUID) {
	w.writerFor(writerGUID).ScheduleHeartbeat()
	w.log.WithField("writer", writerGUID.String()).Debug("heartbeat scheduled, will piggyback on next DATA")
}

func (w *loggingWriterSide) ScheduleAckNack(readerGUID, writerGUID guid.GUID) {}
