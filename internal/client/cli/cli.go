// Package cli implements the commands of the posd binary.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kiosklab/posbox/internal/models"
	"github.com/kiosklab/posbox/internal/pos"
	"github.com/kiosklab/posbox/internal/printer"
	"github.com/kiosklab/posbox/internal/store/boltdb"
	possync "github.com/kiosklab/posbox/internal/sync"
)

// PrintUsage выводит справку по командам
func PrintUsage() {
	fmt.Fprintf(os.Stderr, `Usage: posd [flags] <command>

Commands:
  run     Run the POS data layer: sync engine and print processor
  sync    Run one sync pass and exit
  status  Show outbox, cursor and print queue state

Flags:
`)
	// Флаги печатает вызывающая сторона через flag.PrintDefaults
}

// RunServe запускает долгоживущий процесс: sync engine по расписанию и
// обработчик очереди печати. Новые заказы автоматически ставят чек в очередь.
// Блокируется до отмены контекста.
func RunServe(ctx context.Context, client possync.Client, storage *boltdb.Storage, logger *slog.Logger, interval time.Duration) error {
	posStore := pos.New(storage, logger)
	printManager := printer.NewManager(storage, logger)
	engine := possync.New(client, storage, logger)

	unsubscribe := posStore.On(pos.EventChange, func(payload any) {
		ch, ok := payload.(pos.Change)
		if !ok {
			return
		}

		// Любая мутация ускоряет ближайший sync
		engine.Wake()

		if ch.Type != pos.ChangeCreate || ch.Collection != models.CollectionOrders {
			return
		}

		items, err := posStore.GetOrderItems(ctx, ch.ID)
		if err != nil {
			logger.Error("failed to load order items for receipt", "order_id", ch.ID, "error", err)
			return
		}
		if _, err := printManager.EnqueueReceipt(ctx, orderFromDocument(ch.ID, ch.Doc), items); err != nil {
			logger.Error("failed to enqueue receipt", "order_id", ch.ID, "error", err)
		}
	})
	defer unsubscribe()

	printManager.Start()
	engine.Start(interval)

	logger.Info("posd running",
		"sync_interval", interval,
		"online", client != nil,
	)

	<-ctx.Done()

	engine.Stop()
	printManager.Stop()
	logger.Info("posd stopped")
	return nil
}

// RunSync выполняет один проход синхронизации
func RunSync(ctx context.Context, client possync.Client, storage *boltdb.Storage, logger *slog.Logger) error {
	engine := possync.New(client, storage, logger)

	res, err := engine.SyncOnce(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Printf("Pushed: %d operations\n", res.Pushed)
	fmt.Printf("Pulled: %d changes\n", res.Pulled)
	return nil
}

// RunStatus печатает состояние outbox, курсоров и очереди печати
func RunStatus(ctx context.Context, storage *boltdb.Storage) error {
	pending, err := storage.OutboxCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to read outbox: %w", err)
	}
	fmt.Printf("Pending outbox operations: %d\n", pending)

	fmt.Println("Pull cursors:")
	for _, collection := range models.PullOrder {
		cursor, err := storage.GetCursor(ctx, collection)
		if err != nil {
			return fmt.Errorf("failed to read cursor: %w", err)
		}
		if cursor == "" {
			cursor = "(never pulled)"
		}
		fmt.Printf("  %-12s %s\n", collection, cursor)
	}

	counts, err := storage.CountJobsByStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read print queue: %w", err)
	}
	fmt.Printf("Print jobs: queued=%d printing=%d failed=%d\n",
		counts[models.JobStatusQueued],
		counts[models.JobStatusPrinting],
		counts[models.JobStatusFailed],
	)
	return nil
}

// orderFromDocument восстанавливает заказ из документа change события
func orderFromDocument(id string, doc models.Document) models.Order {
	order := models.Order{ID: id}
	if v, ok := doc["status"].(string); ok {
		order.Status = models.OrderStatus(v)
	}
	if v, ok := doc["note"].(string); ok {
		order.Note = v
	}
	if v, ok := doc["subtotal"].(int64); ok {
		order.Subtotal = v
	}
	if v, ok := doc["createdAt"].(int64); ok {
		order.CreatedAt = v
	}
	if v, ok := doc["updatedAt"].(int64); ok {
		order.UpdatedAt = v
	}
	return order
}
