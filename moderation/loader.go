package moderation

import (
	"bufio"
	"bytes"
	"io/fs"
	"path"
	"strings"

	"hire-chat/errors"
)

// CensoredWords is the result of loading a dictionary directory.
type CensoredWords struct {
	Words     []string
	Languages []string
}

// LoadCensoredWords reads every *.txt file of dir, one word per line.
// The file name is the language ("fr.txt" -> "fr").
func LoadCensoredWords(fsys fs.FS, dir string) (*CensoredWords, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var languages []string
	unique := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".txt" {
			continue
		}
		languages = append(languages, strings.TrimSuffix(entry.Name(), ".txt"))

		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		// Scanner copes with \r\n line endings
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" && !strings.HasPrefix(line, "#") {
				unique[line] = struct{}{}
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	if len(unique) == 0 {
		return nil, errors.ErrEmptyWords
	}
	words := make([]string, 0, len(unique))
	for w := range unique {
		words = append(words, w)
	}
	return &CensoredWords{Words: words, Languages: languages}, nil
}
