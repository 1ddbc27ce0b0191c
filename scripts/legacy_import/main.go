package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type exportFile struct {
	ExportDate string     `json:"exportDate"`
	Version    string     `json:"version"`
	Data       exportData `json:"data"`
}

type exportData struct {
	Classes       []exportSession `json:"classes"`
	StudentRates  map[string]int  `json:"studentRates"`
	PaymentStatus map[string]bool `json:"paymentStatus"`
	DefaultRate   int             `json:"defaultRate"`
}

type exportSession struct {
	ID      string `json:"id"`
	Student string `json:"student"`
	Day     string `json:"day"`
	Date    string `json:"date"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

type loginResponse struct {
	Data struct {
		AccessToken string `json:"access_token"`
	} `json:"data"`
}

type importResponse struct {
	Data struct {
		Version        string   `json:"version"`
		Sessions       int      `json:"sessions"`
		Rates          int      `json:"rates"`
		Payments       int      `json:"payments"`
		MigratedDates  int      `json:"migratedDates"`
		CoarseMapped   int      `json:"coarseMapped"`
		UnmappedCoarse []string `json:"unmappedCoarse"`
		Lossy          bool     `json:"lossy"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var weekdays = map[string]bool{
	"Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true,
	"Friday": true, "Saturday": true, "Sunday": true,
}

func main() {
	var (
		filePath string
		base     string
		email    string
		password string
		token    string
		dryRun   bool
		timeout  time.Duration
	)

	flag.StringVar(&filePath, "file", "", "Path to the legacy export JSON")
	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&email, "email", "", "Tutor email for login")
	flag.StringVar(&password, "password", "", "Tutor password for login")
	flag.StringVar(&token, "token", "", "Access token (skips login)")
	flag.BoolVar(&dryRun, "dry-run", false, "Validate the file without uploading")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "HTTP client timeout")
	flag.Parse()

	if filePath == "" {
		log.Fatal("missing required -file flag")
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatalf("failed to read %s: %v", filePath, err)
	}

	var file exportFile
	if err := json.Unmarshal(raw, &file); err != nil {
		log.Fatalf("not a valid export document: %v", err)
	}

	problems := validate(&file)
	fmt.Printf("File: %s\n", filePath)
	fmt.Printf("Version: %s, exported %s\n", file.Version, file.ExportDate)
	fmt.Printf("Sessions: %d, rates: %d, payment entries: %d, default rate: %d\n",
		len(file.Data.Classes), len(file.Data.StudentRates), len(file.Data.PaymentStatus), file.Data.DefaultRate)

	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Printf("  problem: %s\n", p)
		}
		log.Fatalf("validation failed with %d problem(s)", len(problems))
	}
	fmt.Println("Validation passed")

	if dryRun {
		return
	}

	client := &http.Client{Timeout: timeout}
	if token == "" {
		if email == "" || password == "" {
			log.Fatal("provide -token, or -email and -password to login")
		}
		token, err = login(client, base, email, password)
		if err != nil {
			log.Fatalf("login failed: %v", err)
		}
	}

	result, err := upload(client, base, token, raw)
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}

	fmt.Printf("Imported: %d sessions, %d rates, %d payments\n",
		result.Data.Sessions, result.Data.Rates, result.Data.Payments)
	fmt.Printf("Dates recovered from payment keys: %d, coarse-mapped payments: %d\n",
		result.Data.MigratedDates, result.Data.CoarseMapped)
	if result.Data.Lossy {
		fmt.Printf("WARNING: lossy import, %d payment key(s) could not be mapped:\n", len(result.Data.UnmappedCoarse))
		for _, key := range result.Data.UnmappedCoarse {
			fmt.Printf("  %s\n", key)
		}
	}
}

func validate(file *exportFile) []string {
	var problems []string
	if file.Version == "" {
		problems = append(problems, "missing version")
	}
	if len(file.Data.Classes) == 0 {
		problems = append(problems, "no sessions in data.classes")
	}
	for i, class := range file.Data.Classes {
		prefix := fmt.Sprintf("classes[%d]", i)
		if strings.TrimSpace(class.Student) == "" {
			problems = append(problems, prefix+": empty student")
		}
		if !validClock(class.Start) || !validClock(class.End) {
			problems = append(problems, fmt.Sprintf("%s: bad time range %q-%q", prefix, class.Start, class.End))
		} else if class.End <= class.Start {
			problems = append(problems, fmt.Sprintf("%s: end %q not after start %q", prefix, class.End, class.Start))
		}
		if class.Date != "" {
			if _, err := time.Parse("2006-01-02", class.Date); err != nil {
				problems = append(problems, fmt.Sprintf("%s: bad date %q", prefix, class.Date))
			}
		} else if class.Day != "" && !weekdays[class.Day] {
			problems = append(problems, fmt.Sprintf("%s: unknown weekday %q", prefix, class.Day))
		}
	}
	for student, rate := range file.Data.StudentRates {
		if rate < 0 {
			problems = append(problems, fmt.Sprintf("studentRates[%s]: negative rate %d", student, rate))
		}
	}
	if file.Data.DefaultRate < 0 {
		problems = append(problems, "negative defaultRate")
	}
	return problems
}

func validClock(value string) bool {
	if len(value) != 5 || value[2] != ':' {
		return false
	}
	_, err := time.Parse("15:04", value)
	return err == nil
}

func login(client *http.Client, base, email, password string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := client.Post(endpoint(base, "/api/v1/auth/login"), "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var parsed loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.Data.AccessToken == "" {
		return "", fmt.Errorf("no access token in response")
	}
	return parsed.Data.AccessToken, nil
}

func upload(client *http.Client, base, token string, raw []byte) (*importResponse, error) {
	req, err := http.NewRequest(http.MethodPost, endpoint(base, "/api/v1/import"), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed importResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("status %d: unreadable body: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("status %d: %s (%s)", resp.StatusCode, parsed.Error.Message, parsed.Error.Code)
		}
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return &parsed, nil
}

func endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
