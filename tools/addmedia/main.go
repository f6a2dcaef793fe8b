package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"mediarelay/config"
	"mediarelay/internal/database"
	"mediarelay/models"
)

type radioStation struct {
	title   string
	url     string
	quality models.RadioQuality
}

// parseRadio reads title=url[,quality]. A trailing segment that is not a quality
// label stays part of the URL.
func parseRadio(value string) (radioStation, error) {
	title, url, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(url) == "" {
		return radioStation{}, fmt.Errorf("expected title=url[,quality], got %q", value)
	}
	station := radioStation{title: strings.TrimSpace(title), url: strings.TrimSpace(url)}
	if i := strings.LastIndex(station.url, ","); i >= 0 {
		if quality, err := models.ParseRadioQuality(station.url[i+1:]); err == nil && quality != models.QualityUnset {
			station.url = strings.TrimSpace(station.url[:i])
			station.quality = quality
		}
	}
	if station.url == "" {
		return radioStation{}, fmt.Errorf("expected title=url[,quality], got %q", value)
	}
	return station, nil
}

func main() {
	_ = godotenv.Load()

	settingsPath := flag.String("config", "data/settings.json", "path to the JSON settings file")
	dbPath := flag.String("db", "", "database path (overrides settings)")
	audioDir := flag.String("audio-dir", "", "path to audio directory (defaults to settings media.audioDir)")
	videoDir := flag.String("video-dir", "", "path to video directory (defaults to settings media.videoDir)")
	skipExisting := flag.Bool("skip-existing", false, "skip files whose path is already catalogued")
	workers := flag.Int("workers", runtime.NumCPU(), "number of files hashed concurrently")
	var stations []radioStation
	flag.Func("radio", "add a radio station as title=url[,quality] with quality low|medium|high (repeatable)", func(v string) error {
		station, err := parseRadio(v)
		if err != nil {
			return err
		}
		stations = append(stations, station)
		return nil
	})
	flag.Parse()

	settings, err := config.NewManager(*settingsPath).Load()
	if err != nil {
		log.Fatalf("[addmedia] load settings: %v", err)
	}
	if *dbPath != "" {
		settings.Database.Path = *dbPath
	}
	if *audioDir == "" {
		*audioDir = settings.Media.AudioDir
	}
	if *videoDir == "" {
		*videoDir = settings.Media.VideoDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := database.NewDB(database.Config{DatabasePath: settings.Database.Path, MediaRoot: settings.Media.Root})
	if err != nil {
		log.Fatalf("[addmedia] open database: %v", err)
	}
	defer db.Close()

	log.Printf("[addmedia] workers: %d", *workers)
	s := &scanner{fs: afero.NewOsFs(), catalog: db.Media, workers: *workers, skipExisting: *skipExisting}

	failed := false
	for _, dir := range []struct {
		kind models.MediaKind
		path string
	}{
		{models.MediaAudio, *audioDir},
		{models.MediaVideo, *videoDir},
	} {
		if dir.path == "" {
			continue
		}
		if _, err := os.Stat(dir.path); err != nil {
			log.Printf("[addmedia] error: %s does not exist", dir.path)
			failed = true
			continue
		}
		stats, err := s.Scan(ctx, dir.kind, dir.path)
		log.Printf("[addmedia] %s %s: %s", dir.kind, dir.path, stats)
		if err != nil {
			log.Printf("[addmedia] scan %s: %v", dir.path, err)
			failed = true
		}
		if stats.Failed > 0 {
			failed = true
		}
	}

	for _, station := range stations {
		id, err := db.Media.AddRadio(ctx, station.title, station.url, station.quality)
		if err != nil {
			log.Printf("[addmedia] error: radio %q: %v", station.url, err)
			failed = true
			continue
		}
		log.Printf("[addmedia] radio %q id=%d quality=%q", station.title, id, station.quality)
	}

	if failed {
		db.Close()
		os.Exit(1)
	}
}
