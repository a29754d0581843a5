package main

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/mealplanner/internal/auth"
	"github.com/yourusername/mealplanner/internal/config"
	"github.com/yourusername/mealplanner/internal/jobs"
	"github.com/yourusername/mealplanner/internal/mail"
	"github.com/yourusername/mealplanner/internal/storage"
)

func setupJobs(cfg *config.Config) (*jobs.Manager, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(opt)
	ttlMinutes := cfg.VerificationTTLMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 60 * 24
	}
	store := jobs.NewStore(redisClient, time.Duration(ttlMinutes)*time.Minute)

	sender, err := mail.NewSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		TLS:      cfg.SMTPTLS,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	if err != nil {
		return nil, err
	}

	return jobs.NewManager(cfg, store, sender, log.Default())
}

// resendVerificationHandler は確認メールを再送します。
func resendVerificationHandler(repo storage.Repository, manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.TargetUserID(c)

		user, err := repo.User(c.Request.Context(), userID)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "USER_NOT_FOUND",
				"message": "The user does not exist.",
			})
			return
		}
		if err != nil {
			log.Printf("failed to load user %d: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Server error - please try again later.",
			})
			return
		}
		if user.EmailVerified {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "ALREADY_VERIFIED",
				"message": "The email address is already verified.",
			})
			return
		}

		if err := manager.ScheduleVerification(c.Request.Context(), *user); err != nil {
			log.Printf("failed to enqueue verification user=%d: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Server error - please try again later.",
			})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"userId": userID,
			"status": jobs.StatusQueued,
		})
	}
}

// verificationStatusHandler は確認メールの配信状況を返します。
func verificationStatusHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.TargetUserID(c)

		record, err := manager.GetRecord(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to load the delivery status.",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "VERIFICATION_NOT_FOUND",
				"message": "No verification email has been sent recently.",
			})
			return
		}

		payload := gin.H{
			"userId":    record.UserID,
			"status":    record.Status,
			"attempts":  record.Attempts,
			"updatedAt": record.UpdatedAt,
			"expiresAt": record.ExpiresAt,
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}

		c.JSON(http.StatusOK, payload)
	}
}
