package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// Stream audio in 100ms chunks to simulate real-time dictation.
const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "../../testdata/sample-24khz.wav", "Path to WAV file (PCM 16-bit mono)")
	serverAddr := flag.String("server", "localhost:9000", "Dictation relay address")
	sessionID := flag.String("session", "test-audio-"+time.Now().Format("150405"), "Session ID")
	finalize := flag.Bool("finalize", true, "POST /end-dictation after streaming")
	flag.Parse()

	// Open audio file
	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	// Read and validate WAV header
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}

	// Validate it's a WAV file
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	// Extract audio format info
	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 { // PCM
		log.Fatal("Only PCM format supported")
	}
	if sampleRate != 24000 {
		log.Printf("Warning: Sample rate is %d Hz, realtime transcription expects 24000 Hz", sampleRate)
	}

	// Bytes per 100ms at the file's actual rate
	chunkSize := int(sampleRate) * int(numChannels) * int(bitsPerSample) / 8 / (1000 / chunkIntervalMs)

	wsURL := fmt.Sprintf("ws://%s/ws/asr?sessionId=%s", *serverAddr, *sessionID)
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer ws.Close()

	log.Printf("Connected to %s, sessionId=%s", wsURL, *sessionID)

	// Print transcription events as they arrive
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg map[string]any
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			log.Printf("Server: %v", msg)
		}
	}()

	// Stream audio in chunks
	audioChunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := f.Read(audioChunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)

		if err := ws.WriteMessage(websocket.BinaryMessage, audioChunk[:n]); err != nil {
			log.Fatalf("Failed to send frame: %v", err)
		}

		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}

		// Simulate real-time streaming
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}

	elapsed := time.Since(startTime)
	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, elapsed)

	// Flush the buffer and wait for final transcripts
	if err := ws.WriteJSON(map[string]string{"type": "end_audio"}); err != nil {
		log.Fatalf("Failed to send end_audio: %v", err)
	}

	log.Println("Waiting for final transcripts...")
	select {
	case <-done:
	case <-time.After(10 * time.Second):
	}

	ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	if !*finalize {
		return
	}

	// Run LLM cleanup over the accumulated session text
	body, _ := json.Marshal(map[string]string{"sessionId": *sessionID})
	resp, err := http.Post(fmt.Sprintf("http://%s/end-dictation", *serverAddr),
		"application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("end-dictation failed: %v", err)
	}
	defer resp.Body.Close()

	result, _ := io.ReadAll(resp.Body)
	log.Printf("end-dictation [%d]: %s", resp.StatusCode, result)
}
