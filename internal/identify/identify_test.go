package identify

import "testing"

func TestIdentify(t *testing.T) {
	t.Run("carrier metadata wins when no tags are present", func(t *testing.T) {
		info := Identify(Input{
			Payload:   []byte("not an audio file"),
			FileName:  "Other Artist - Other Title.mp3",
			Performer: "Carrier Artist",
			Title:     "Carrier Title",
		})
		if info == nil {
			t.Fatal("expected an identification")
		}
		if info.Method != "carrier" {
			t.Errorf("expected carrier, got %s", info.Method)
		}
		if info.Artist != "Carrier Artist" || info.Title != "Carrier Title" {
			t.Errorf("unexpected result: %+v", info)
		}
	})

	t.Run("filename is the last resort", func(t *testing.T) {
		info := Identify(Input{FileName: "Some Artist - Some Song.mp3"})
		if info == nil {
			t.Fatal("expected an identification")
		}
		if info.Method != "filename" {
			t.Errorf("expected filename, got %s", info.Method)
		}
		if info.Artist != "Some Artist" || info.Title != "Some Song" {
			t.Errorf("unexpected result: %+v", info)
		}
	})

	t.Run("nothing to go on yields nil", func(t *testing.T) {
		if info := Identify(Input{}); info != nil {
			t.Errorf("expected nil, got %+v", info)
		}
	})
}

func TestFromFileName(t *testing.T) {
	cases := []struct {
		name   string
		artist string
		title  string
	}{
		{"Artist - Title.mp3", "Artist", "Title"},
		{"Artist - Title (Official Video).mp3", "Artist", "Title"},
		{"Artist - Title [HQ].flac", "Artist", "Title"},
		{"Artist – Title.m4a", "Artist", "Title"}, // en dash
		{"  Artist   -   Title  .mp3", "Artist", "Title"},
	}
	for _, c := range cases {
		info := fromFileName(c.name)
		if info == nil {
			t.Errorf("%q: expected an identification", c.name)
			continue
		}
		if info.Artist != c.artist || info.Title != c.title {
			t.Errorf("%q: expected %q / %q, got %q / %q", c.name, c.artist, c.title, info.Artist, info.Title)
		}
	}

	t.Run("no separator falls back to title only", func(t *testing.T) {
		info := fromFileName("nightcall.mp3")
		if info == nil {
			t.Fatal("expected an identification")
		}
		if info.Artist != "" || info.Title != "nightcall" {
			t.Errorf("unexpected result: %+v", info)
		}
	})

	t.Run("empty name yields nil", func(t *testing.T) {
		if info := fromFileName(""); info != nil {
			t.Errorf("expected nil, got %+v", info)
		}
	})
}
