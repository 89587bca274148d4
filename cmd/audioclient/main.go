package main

import (
	"encoding/binary"
	"flag"
	"log"
	"net"
	"os"
	"time"

	"github.com/go-audio/wav"

	"transcript-channel-worker/internal/service/capture"
)

// Stream audio in 100ms chunks to simulate a live capture device.
const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16-bit mono)")
	socketDir := flag.String("dir", os.TempDir(), "Worker capture socket directory")
	channel := flag.Int("channel", 0, "Channel index to feed")
	loop := flag.Bool("loop", false, "Repeat the file until interrupted")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		log.Fatal("Not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		log.Fatalf("Failed to decode WAV: %v", err)
	}

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		dec.WavAudioFormat, dec.NumChans, dec.SampleRate, dec.BitDepth)

	if dec.WavAudioFormat != 1 {
		log.Fatal("Only PCM format supported")
	}
	if dec.NumChans != 1 || dec.BitDepth != 16 {
		log.Fatal("Only 16-bit mono audio supported")
	}

	pcm := make([]byte, 2*len(buf.Data))
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(s)))
	}
	chunkSize := int(dec.SampleRate) * 2 * chunkIntervalMs / 1000

	path := capture.SocketPath(*socketDir, *channel)
	conn, err := net.Dial("unix", path)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", path, err)
	}
	defer conn.Close()

	log.Printf("Connected to %s", path)

	ticker := time.NewTicker(chunkIntervalMs * time.Millisecond)
	defer ticker.Stop()

	for {
		totalBytes := 0
		for off := 0; off < len(pcm); off += chunkSize {
			end := min(off+chunkSize, len(pcm))
			if _, err := conn.Write(pcm[off:end]); err != nil {
				log.Fatalf("Failed to send audio: %v", err)
			}
			totalBytes += end - off
			<-ticker.C
		}
		log.Printf("Sent %d bytes (%.1fs of audio)", totalBytes, float64(totalBytes)/float64(2*dec.SampleRate))
		if !*loop {
			return
		}
	}
}
