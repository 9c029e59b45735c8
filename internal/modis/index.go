package modis

import (
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/net/html"
)

func links(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse archive index: %w", err)
	}
	var hrefs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					hrefs = append(hrefs, attr.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return hrefs, nil
}

// ParseDirectoryDates returns the dated sub-directories listed in an archive
// index page, in page order.
func ParseDirectoryDates(r io.Reader) ([]string, error) {
	hrefs, err := links(r)
	if err != nil {
		return nil, err
	}
	var dates []string
	for _, href := range hrefs {
		if !strings.HasSuffix(href, "/") {
			continue
		}
		date := strings.Trim(href, "/")
		if _, err := time.Parse(archiveDateLayout, date); err != nil {
			continue
		}
		dates = append(dates, date)
	}
	return dates, nil
}

// ParseTileFiles returns the granule files of tile listed in a dated index
// page. Metadata .hdf.xml files are only included with getXML.
func ParseTileFiles(r io.Reader, tile string, getXML bool) ([]string, error) {
	hrefs, err := links(r)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var files []string
	for _, href := range hrefs {
		if !strings.Contains(href, tile) || !strings.Contains(href, ".hdf") {
			continue
		}
		if strings.HasSuffix(href, ".hdf.xml") && !getXML {
			continue
		}
		name := href[strings.LastIndex(href, "/")+1:]
		if seen[name] {
			continue
		}
		seen[name] = true
		files = append(files, name)
	}
	return files, nil
}
