package escrow

import "time"

// SeedTransactions is the fixture set written on first run when no persisted
// data exists. Codes and dates are fixed so a fresh install is reproducible.
func SeedTransactions() []*Transaction {
	return []*Transaction{
		{
			Code:            "esc_seed_camara",
			ProductRef:      "prod_1001",
			Title:           "Cámara digital Canon PowerShot",
			BuyerID:         "user_berta",
			SellerID:        "user_saul",
			Status:          StatusShipped,
			Tracking:        "MX442118820",
			CreatedAt:       time.Date(2026, 2, 10, 15, 4, 0, 0, time.UTC),
			DisputeDeadline: time.Date(2026, 2, 13, 15, 4, 0, 0, time.UTC),
			ShippedAt:       timePtr(time.Date(2026, 2, 11, 9, 30, 0, 0, time.UTC)),
			UpdatedAt:       time.Date(2026, 2, 11, 9, 30, 0, 0, time.UTC),
			Messages: []Message{
				{
					ID:     "msg_seed_1",
					Author: AuthorBuyer,
					Text:   "¿Cuándo lo envías?",
					At:     time.Date(2026, 2, 10, 18, 12, 0, 0, time.UTC),
				},
				{
					ID:     "msg_seed_2",
					Author: AuthorSystem,
					Text:   "Envío confirmado por el vendedor. Guía: MX442118820",
					At:     time.Date(2026, 2, 11, 9, 30, 0, 0, time.UTC),
				},
			},
		},
		{
			Code:            "esc_seed_bici",
			ProductRef:      "prod_1002",
			Title:           "Bicicleta de montaña R26",
			BuyerID:         "user_carmen",
			SellerID:        "user_saul",
			Status:          StatusHeld,
			CreatedAt:       time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC),
			DisputeDeadline: time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC),
			UpdatedAt:       time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC),
			Messages:        []Message{},
		},
		{
			Code:            "esc_seed_consola",
			ProductRef:      "prod_1003",
			Title:           "Consola retro, incluye 2 controles",
			BuyerID:         "user_berta",
			SellerID:        "user_memo",
			Status:          StatusReleased,
			Tracking:        "MX440007713",
			CreatedAt:       time.Date(2026, 1, 28, 12, 45, 0, 0, time.UTC),
			DisputeDeadline: time.Date(2026, 1, 31, 12, 45, 0, 0, time.UTC),
			ShippedAt:       timePtr(time.Date(2026, 1, 29, 8, 10, 0, 0, time.UTC)),
			DeliveredAt:     timePtr(time.Date(2026, 1, 31, 17, 22, 0, 0, time.UTC)),
			ResolvedAt:      timePtr(time.Date(2026, 1, 31, 17, 25, 0, 0, time.UTC)),
			UpdatedAt:       time.Date(2026, 1, 31, 17, 25, 0, 0, time.UTC),
			Messages: []Message{
				{
					ID:     "msg_seed_3",
					Author: AuthorSystem,
					Text:   "Envío confirmado por el vendedor. Guía: MX440007713",
					At:     time.Date(2026, 1, 29, 8, 10, 0, 0, time.UTC),
				},
				{
					ID:     "msg_seed_4",
					Author: AuthorSystem,
					Text:   "Entrega confirmada por el comprador",
					At:     time.Date(2026, 1, 31, 17, 22, 0, 0, time.UTC),
				},
				{
					ID:     "msg_seed_5",
					Author: AuthorSystem,
					Text:   "Fondos liberados al vendedor",
					At:     time.Date(2026, 1, 31, 17, 25, 0, 0, time.UTC),
				},
			},
		},
	}
}

func timePtr(t time.Time) *time.Time { return &t }
