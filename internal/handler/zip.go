package handler

import "archive/zip"

// zipMemberNames lists the member names in a zip archive's central
// directory without extracting any content.
func zipMemberNames(path string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names, nil
}
