package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewDephealthService_ValidURL(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer mockServer.Close()

	// Используем изолированный Prometheus registry для тестов
	reg := prometheus.NewRegistry()

	ds, err := NewDephealthServiceWithRegisterer("test-dvf-01", mockServer.URL, 5*time.Second, testLogger(), reg)
	if err != nil {
		t.Fatalf("Ошибка создания DephealthService: %v", err)
	}
	if ds == nil {
		t.Fatal("DephealthService nil")
	}
}

func TestDephealthService_Health(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"доступен", http.StatusOK, true},
		{"ошибка сервера", http.StatusInternalServerError, false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer mockServer.Close()

			ds, err := NewDephealthServiceWithRegisterer(
				"test-dvf-0"+string(rune('2'+i)),
				mockServer.URL,
				1*time.Second,
				testLogger(),
				prometheus.NewRegistry(),
			)
			if err != nil {
				t.Fatalf("Ошибка создания DephealthService: %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := ds.Start(ctx); err != nil {
				t.Fatalf("Ошибка запуска: %v", err)
			}
			defer ds.Stop()

			// Даём время на первую проверку (интервал 1s + запас)
			time.Sleep(3 * time.Second)

			found := false
			for key, val := range ds.Health() {
				if strings.HasPrefix(key, TelegramDependency+":") {
					found = true
					if val != tt.want {
						t.Errorf("health = %v для ключа %q, ожидалось %v", val, key, tt.want)
					}
				}
			}
			if !found {
				t.Errorf("Нет записи для %s в Health()", TelegramDependency)
			}
		})
	}
}
