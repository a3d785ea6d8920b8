package encode

import (
	id3v2 "github.com/bogem/id3v2/v2"
)

// tagMP3 writes title into the ID3v2 tag of the mp3 at path.
func tagMP3(path, title string) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return err
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(title)
	return tag.Save()
}
