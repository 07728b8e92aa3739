// Command replay-reads replays captured reader traffic from a pcap file
// into the tag event log. Readers broadcast newline-delimited read records
// over UDP; this tool extracts the payloads, parses them, and appends the
// events in batches so a site survey can be re-analysed offline.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/wareline-data/tagfind/internal/db"
	"github.com/wareline-data/tagfind/internal/readergw"
	"github.com/wareline-data/tagfind/internal/rtls"
)

var (
	pcapPath  = flag.String("pcap", "", "Path to the pcap capture (required)")
	dbPath    = flag.String("db", "tagfind.db", "Path to the sqlite database")
	udpPort   = flag.Int("port", 5084, "UDP port the readers broadcast on")
	mapPath   = flag.String("reader-map", "", "JSON file mapping source IP to reader id")
	batchSize = flag.Int("batch", 500, "Events per insert batch")
)

func loadReaderMap(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func main() {
	flag.Parse()
	if *pcapPath == "" {
		log.Fatal("-pcap is required")
	}

	readerMap, err := loadReaderMap(*mapPath)
	if err != nil {
		log.Fatalf("failed to load reader map: %v", err)
	}

	f, err := os.Open(*pcapPath)
	if err != nil {
		log.Fatalf("failed to open pcap: %v", err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		log.Fatalf("failed to read pcap header: %v", err)
	}

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	source := gopacket.NewPacketSource(r, r.LinkType())

	var batch []rtls.TagEvent
	var packets, parsed, malformed int
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := store.AppendEvents(ctx, batch); err != nil {
			log.Fatalf("failed to append %d events: %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for packet := range source.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || int(udp.DstPort) != *udpPort || len(udp.Payload) == 0 {
			continue
		}
		packets++

		readerID := sourceIP(packet)
		if mapped, ok := readerMap[readerID]; ok {
			readerID = mapped
		}
		captured := packet.Metadata().Timestamp

		scan := bufio.NewScanner(strings.NewReader(string(udp.Payload)))
		for scan.Scan() {
			line := scan.Text()
			if readergw.ClassifyLine(line) != readergw.LineTypeRead {
				continue
			}
			reading, err := readergw.ParseReadLine(readerID, line, captured)
			if err != nil {
				malformed++
				continue
			}
			parsed++
			batch = append(batch, rtls.TagEvent{
				TagID:          reading.TagID,
				ReaderID:       reading.ReaderID,
				SignalStrength: reading.RSSI,
				EventType:      string(readergw.EventRead),
				Timestamp:      reading.Timestamp,
			})
			if len(batch) >= *batchSize {
				flush()
			}
		}
	}
	flush()

	log.Printf("replay complete: %d packets, %d reads appended, %d malformed lines",
		packets, parsed, malformed)
}

// sourceIP returns the packet's source address, used as the reader id when
// no mapping overrides it.
func sourceIP(packet gopacket.Packet) string {
	if netLayer := packet.NetworkLayer(); netLayer != nil {
		return netLayer.NetworkFlow().Src().String()
	}
	return "unknown"
}
